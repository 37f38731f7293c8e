package domain

// WarningKind — нефатальные исходы: результат деградирует, но вызов завершается.
type WarningKind string

const (
	WarnMembershipDegraded WarningKind = "membership_lookup_degraded"
	WarnGroupLookupFailed  WarningKind = "group_lookup_failed"
	WarnActionUnresolvable WarningKind = "action_unresolvable"
	WarnConcurrentDeletion WarningKind = "concurrent_deletion_race"
	WarnMergeConflict      WarningKind = "merge_conflict"
	WarnGlobalBootstrap    WarningKind = "global_bootstrap_fallback"
	WarnInvalidManifest    WarningKind = "invalid_manifest"
)

type Warning struct {
	Kind    WarningKind `json:"kind"`
	Subject string      `json:"subject"` // user/group/agent/action, к которому относится
	Message string      `json:"message"`
}

// Conflict — запись, отброшенная при слиянии из-за коллизии имен.
type Conflict struct {
	Name    string `json:"name"`
	Kept    Scope  `json:"kept"`
	Dropped Scope  `json:"dropped"`
	Entity  string `json:"entity"` // agent | action
}
