package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSecrets_Resolve(t *testing.T) {
	t.Setenv("SCOPE_TEST_SECRET", "s3cr3t")
	t.Setenv("SCOPE_TEST_EMPTY", "")

	var s EnvSecrets
	ctx := context.Background()

	v, err := s.Resolve(ctx, "env://SCOPE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", v)

	v, err = s.Resolve(ctx, "env(SCOPE_TEST_SECRET)")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", v)

	_, err = s.Resolve(ctx, "env://SCOPE_TEST_EMPTY")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = s.Resolve(ctx, "env://SCOPE_TEST_MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = s.Resolve(ctx, "vault://kv/prod/token")
	require.ErrorIs(t, err, ErrSecretNotFound)
	assert.NotContains(t, err.Error(), "kv/prod/token")
}

func TestStaticSecrets_Resolve(t *testing.T) {
	s := StaticSecrets{"ref-a": "value-a", "ref-empty": ""}

	v, err := s.Resolve(context.Background(), "ref-a")
	require.NoError(t, err)
	assert.Equal(t, "value-a", v)

	_, err = s.Resolve(context.Background(), "ref-empty")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}
