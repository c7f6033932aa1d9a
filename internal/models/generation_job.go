package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// GenerationStatus captures background job lifecycle states.
type GenerationStatus string

const (
	GenerationStatusQueued     GenerationStatus = "QUEUED"
	GenerationStatusProcessing GenerationStatus = "PROCESSING"
	GenerationStatusFinished   GenerationStatus = "FINISHED"
	GenerationStatusFailed     GenerationStatus = "FAILED"
)

// GenerationFailure records one student that could not be certified.
type GenerationFailure struct {
	StudentID string `json:"studentId"`
	Reason    string `json:"reason"`
}

// GenerationJobParams stores the request persisted as JSONB.
type GenerationJobParams struct {
	TemplateRef string   `json:"templateRef"`
	StudentIDs  []string `json:"studentIds"`
}

// Value marshals params to JSON for persistence.
func (p GenerationJobParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal generation job params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *GenerationJobParams) Scan(value interface{}) error {
	return scanJSON(value, p, "GenerationJobParams")
}

// GenerationFailureList persists the failure list as JSONB.
type GenerationFailureList []GenerationFailure

// Value marshals the failure list for persistence.
func (l GenerationFailureList) Value() (driver.Value, error) {
	if l == nil {
		l = GenerationFailureList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal generation failures: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the failure list.
func (l *GenerationFailureList) Scan(value interface{}) error {
	return scanJSON(value, l, "GenerationFailureList")
}

// GenerationJob is a persisted asynchronous generation request.
type GenerationJob struct {
	ID             string                `db:"id" json:"id"`
	Params         GenerationJobParams   `db:"params" json:"params"`
	Status         GenerationStatus      `db:"status" json:"status"`
	Progress       int                   `db:"progress" json:"progress"`
	TotalRequested int                   `db:"total_requested" json:"total_requested"`
	TotalGenerated int                   `db:"total_generated" json:"total_generated"`
	Failures       GenerationFailureList `db:"failures" json:"failures"`
	CreatedBy      string                `db:"created_by" json:"created_by"`
	CreatedAt      time.Time             `db:"created_at" json:"created_at"`
	FinishedAt     *time.Time            `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage   *string               `db:"error_message" json:"error_message,omitempty"`
}

func scanJSON(value interface{}, dest interface{}, name string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, name)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}
