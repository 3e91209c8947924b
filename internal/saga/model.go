package saga

import (
	"time"

	"github.com/google/uuid"

	apperrors "backbone/pkg/errors"
)

type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCompensated Status = "COMPENSATED"
)

// validTransitions encodes the one-directional state machine:
// STARTED → IN_PROGRESS → COMPLETED, or → FAILED → COMPENSATED.
var validTransitions = map[Status][]Status{
	StatusStarted:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusInProgress, StatusCompleted, StatusFailed},
	StatusFailed:     {StatusCompensated},
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated
}

// Step describes one forward action and its optional compensation, both
// executed against a named external collaborator.
type Step struct {
	Action       string `json:"action"`
	Service      string `json:"service"`
	Compensation string `json:"compensation,omitempty"`
}

// Saga is owned exclusively by the Coordinator. All writes are whole-record
// overwrites guarded by Version; other components only read it.
type Saga struct {
	ID            string                 `json:"saga_id"`
	Type          string                 `json:"saga_type"`
	Steps         []Step                 `json:"steps"`
	CurrentStep   int                    `json:"current_step"`
	Status        Status                 `json:"status"`
	CorrelationID string                 `json:"correlation_id"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Payload       map[string]interface{} `json:"payload"`
	Version       int64                  `json:"version"`
}

func NewSaga(sagaType string, steps []Step, payload map[string]interface{}) (*Saga, error) {
	if sagaType == "" {
		return nil, apperrors.ErrValidation.WithDetail("reason", "saga_type is required")
	}
	if len(steps) == 0 {
		return nil, apperrors.ErrValidation.WithDetail("reason", "at least one step is required")
	}
	for i, step := range steps {
		if step.Action == "" || step.Service == "" {
			return nil, apperrors.ErrValidation.
				WithDetail("reason", "step action and service are required").
				WithDetail("step_index", i)
		}
	}

	now := time.Now()
	return &Saga{
		ID:            uuid.NewString(),
		Type:          sagaType,
		Steps:         steps,
		CurrentStep:   0,
		Status:        StatusStarted,
		CorrelationID: uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Payload:       payload,
	}, nil
}

func (s *Saga) transition(to Status) error {
	if !s.Status.CanTransition(to) {
		return apperrors.ErrConflict.
			WithDetail("saga_id", s.ID).
			WithDetail("from", string(s.Status)).
			WithDetail("to", string(to))
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	return nil
}
