package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

const testConfig = `
cloud:
  environment: public
  resources:
    cognitive-services-token-scope:
      auth_mode: api-key
      api_key_ref: env://SCOPECTL_TEST_KEY
    cache-infrastructure-endpoint:
      auth_mode: api-key
      resource_name: dev-cache
      api_key_ref: env://SCOPECTL_TEST_KEY
`

const testManifest = `
groups:
  - id: g-1
    name: Platform
    members: [alice]
agents:
  - name: helper
    scope: personal
    owner_id: alice
    referenced_actions: [wiki]
  - name: oncall
    scope: group
    group_id: g-1
  - name: default
    scope: global
actions:
  - name: wiki
    scope: global
`

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateConfig(t *testing.T) {
	out, err := run(t, "validate-config", "--config", writeTemp(t, "config.yaml", testConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "OK: public cloud, 2 resource(s)")

	_, err = run(t, "validate-config", "--config", writeTemp(t, "config.yaml", "cloud:\n  environment: custom\n  resources:\n    agent-hosting-endpoint:\n      auth_mode: api-key\n      api_key_ref: env://K\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom")
}

func TestEndpoints(t *testing.T) {
	out, err := run(t, "endpoints", "-c", writeTemp(t, "config.yaml", testConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "https://dev-cache.redis.cache.windows.net")
	assert.Contains(t, out, "cognitive-services-token-scope")
}

func TestValidateManifest(t *testing.T) {
	out, err := run(t, "validate-manifest", writeTemp(t, "scopes.yaml", testManifest))
	require.NoError(t, err)
	assert.Contains(t, out, "OK: 1 group(s), 3 agent(s), 1 action(s)")

	_, err = run(t, "validate-manifest", writeTemp(t, "scopes.yaml", "agents:\n  - name: x\n    scope: team\n"))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Setenv("SCOPECTL_TEST_KEY", "k-123")
	cfg := writeTemp(t, "config.yaml", testConfig)
	mf := writeTemp(t, "scopes.yaml", testManifest)

	out, err := run(t, "resolve", "-c", cfg, "-m", mf, "-u", "alice", "-a", "helper")
	require.NoError(t, err)
	assert.NotContains(t, out, "k-123")

	var view domain.ExecutionContextView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "helper", view.Agent.Name)
	require.Len(t, view.Actions, 1)
	assert.Equal(t, "wiki", view.Actions[0].Name)
	require.Len(t, view.Endpoints, 1)
	assert.Equal(t, domain.ResourceCognitiveScope, view.Endpoints[0].ResourceKind)

	_, err = run(t, "resolve", "-c", cfg, "-m", mf, "-u", "alice", "-a", "ghost")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestResolve_ListGroupSession(t *testing.T) {
	cfg := writeTemp(t, "config.yaml", testConfig)
	mf := writeTemp(t, "scopes.yaml", testManifest)

	out, err := run(t, "resolve", "-c", cfg, "-m", mf, "-u", "alice", "--hint", "group", "-g", "g-1", "--list")
	require.NoError(t, err)

	var body struct {
		Agents []domain.Agent `json:"agents"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.NotEmpty(t, body.Agents)
	for _, a := range body.Agents {
		assert.NotEqual(t, "helper", a.Name, "personal agents are hidden in group sessions")
	}
}

func TestInvalidate_RequiresTargets(t *testing.T) {
	_, err := run(t, "invalidate")
	assert.Error(t, err)
	_, err = run(t, "invalidate", "--all", "alice")
	assert.Error(t, err)
}
