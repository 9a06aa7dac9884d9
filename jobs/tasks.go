package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIntegrityScan re-checks posted journals and flags stale
	// pending markers.
	TaskIntegrityScan = "posting:integrity_scan"
	// TaskMarkerCleanup removes expired preview markers.
	TaskMarkerCleanup = "posting:marker_cleanup"
)

// IntegrityScanPayload configures one integrity scan run.
type IntegrityScanPayload struct {
	// PendingStaleAfter is a duration string, e.g. "168h".
	PendingStaleAfter string `json:"pendingStaleAfter,omitempty"`
}

// NewIntegrityScanTask constructs an Asynq task.
func NewIntegrityScanTask(payload IntegrityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrityScan, data), nil
}

// MarkerCleanupPayload configures one cleanup run.
type MarkerCleanupPayload struct {
	// Retention is a duration string, e.g. "720h".
	Retention string `json:"retention,omitempty"`
}

// NewMarkerCleanupTask constructs an Asynq task.
func NewMarkerCleanupTask(payload MarkerCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMarkerCleanup, data), nil
}
