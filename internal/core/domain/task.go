package domain

import "time"

// TaskStatus represents the workflow state of a task.
type TaskStatus string

const (
	TaskStatusTodo  TaskStatus = "todo"
	TaskStatusDoing TaskStatus = "doing"
	TaskStatusDone  TaskStatus = "done"
)

// Task is the collaborative task entity as cached on the client.
type Task struct {
	ID        string     `json:"id"`
	ListID    string     `json:"list_id"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	Status    TaskStatus `json:"status"`
	Assignee  string     `json:"assignee,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	Version   int64      `json:"version"`
}

// Clone returns a deep copy safe to hand to subscribers.
func (t Task) Clone() Task {
	c := t
	if t.DueAt != nil {
		due := *t.DueAt
		c.DueAt = &due
	}
	return c
}

// Merge applies a shallow field map onto the task, incoming fields winning.
// Unknown keys are ignored so newer server payloads don't break old clients.
func (t *Task) Merge(fields map[string]any) {
	for k, v := range fields {
		switch k {
		case "title":
			if s, ok := v.(string); ok {
				t.Title = s
			}
		case "notes":
			if s, ok := v.(string); ok {
				t.Notes = s
			}
		case "status":
			if s, ok := v.(string); ok {
				t.Status = TaskStatus(s)
			}
		case "assignee":
			if s, ok := v.(string); ok {
				t.Assignee = s
			}
		case "list_id":
			if s, ok := v.(string); ok {
				t.ListID = s
			}
		case "due_at":
			switch due := v.(type) {
			case string:
				if ts, err := time.Parse(time.RFC3339, due); err == nil {
					t.DueAt = &ts
				}
			case nil:
				t.DueAt = nil
			}
		case "updated_at":
			if s, ok := v.(string); ok {
				if ts, err := time.Parse(time.RFC3339, s); err == nil {
					t.UpdatedAt = ts
				}
			}
		case "version":
			switch n := v.(type) {
			case float64:
				t.Version = int64(n)
			case int64:
				t.Version = n
			}
		}
	}
}
