package domain

import "time"

// ChangeEvent represents a server-pushed change to a cached collection.
type ChangeEvent struct {
	EventType  EventType      `json:"event_type"`
	EntityType string         `json:"entity_type"`
	ID         string         `json:"id"`
	Payload    *Task          `json:"payload,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	ReceivedAt time.Time      `json:"-"`
}

type EventType string

const (
	EventTypeInsert EventType = "insert"
	EventTypeUpdate EventType = "update"
	EventTypeDelete EventType = "delete"
)

// Complete reports whether the event carries enough context to merge
// precisely. Incomplete events force a collection-wide refetch instead of
// risking a partial record in the cache.
func (e *ChangeEvent) Complete() bool {
	switch e.EventType {
	case EventTypeInsert:
		return e.Payload != nil && e.Payload.ID != "" && e.Payload.ListID != "" && e.Payload.Title != ""
	case EventTypeUpdate:
		return e.ID != "" && len(e.Fields) > 0
	case EventTypeDelete:
		return e.ID != ""
	default:
		return false
	}
}
