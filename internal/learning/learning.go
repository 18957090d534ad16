// Package learning defines reusable patterns extracted from human task
// resolutions and the store that persists them. A learning's confidence
// rises it into automatic application and decays when attempts it backed
// fail; learnings are never deleted.
package learning

import "time"

// StartingConfidence is assigned to every freshly synthesized learning.
const StartingConfidence = 0.5

// Delta captures the gap between what automation produced and what the
// human provided.
type Delta struct {
	AIConfidence  float64 `json:"ai_confidence"`
	HumanProvided bool    `json:"human_provided"`
}

// Learning is a persisted pattern extracted from a human resolution.
type Learning struct {
	ID                string
	TaskType          string
	TaskID            string // source task
	Context           map[string]string
	Pattern           string // human-readable description
	HumanAction       string
	HumanInput        map[string]any
	AIAttemptedOutput map[string]any
	Delta             Delta
	Confidence        float64 // always within [0,1]
	UsageCount        int
	SuccessCount      int
	FailureCount      int
	Trainable         bool
	CreatedBy         string
	CreatedAt         time.Time
	LastUsedAt        *time.Time
}

// MatchesContext reports whether the learning applies to the given task
// context: every field the learning carries must match. A learning with no
// context matches everything.
func (l *Learning) MatchesContext(taskCtx map[string]string) bool {
	for k, v := range l.Context {
		if taskCtx[k] != v {
			return false
		}
	}
	return true
}

// ClampConfidence bounds a confidence value to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
