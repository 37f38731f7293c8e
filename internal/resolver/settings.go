package resolver

import (
	"time"

	"github.com/xela07ax/spaceai-scope-resolver/internal/credentials"
)

// Settings — неизменяемый снимок настроек, который передается в каждый вызов резолва.
// Движок не читает глобальное состояние процесса.
type Settings struct {
	MergeGlobalEnabled bool
	Cloud              credentials.CloudSettings
	ResolutionTimeout  time.Duration // Общий дедлайн одного резолва; 0 — только дедлайн вызывающего
}

func DefaultSettings() Settings {
	return Settings{
		MergeGlobalEnabled: true,
		ResolutionTimeout:  10 * time.Second,
	}
}
