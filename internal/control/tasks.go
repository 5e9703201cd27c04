package control

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/syncd/internal/core/domain"
	"github.com/taskhive/syncd/internal/infra/journal"
	"github.com/taskhive/syncd/internal/sync/mutate"
)

// CreateTask returns a callable mutation that creates the task. The cache
// shows a provisional copy immediately; the push event or direct response
// replaces it with the server's version.
func (c *Client) CreateTask(task domain.Task) *mutate.Wrapped {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.ListID == "" {
		task.ListID = c.cfg.Sync.ListID
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusTodo
	}
	task.UpdatedAt = time.Now()

	payload, _ := json.Marshal(task)
	return c.NewMutation(mutate.Mutation{
		Description: "create task " + task.Title,
		Optimistic: func() {
			c.tasks.Upsert(task)
		},
		Rollback: func() {
			c.tasks.Delete(task.ID)
		},
		Invoke: func(ctx context.Context) error {
			created, err := c.backend.CreateTask(ctx, task)
			if err != nil {
				return err
			}
			if created.ID != task.ID {
				c.tasks.Delete(task.ID)
			}
			c.tasks.Upsert(created)
			return nil
		},
		Command:      &journal.Command{Kind: cmdTaskCreate, Payload: payload},
		NotifyQueued: true,
	})
}

// UpdateTask returns a callable mutation that patches the given fields.
// The previous cached version is captured at call time for rollback.
func (c *Client) UpdateTask(id string, fields map[string]any) *mutate.Wrapped {
	payload, _ := json.Marshal(updatePayload{ID: id, Fields: fields})

	var prior domain.Task
	var existed bool
	return c.NewMutation(mutate.Mutation{
		Description: "update task " + id,
		Optimistic: func() {
			prior, existed = c.tasks.Get(id)
			c.tasks.Merge(id, fields)
		},
		Rollback: func() {
			if existed {
				c.tasks.Upsert(prior)
			} else {
				c.tasks.Delete(id)
			}
		},
		Invoke: func(ctx context.Context) error {
			updated, err := c.backend.UpdateTask(ctx, id, fields)
			if err != nil {
				return err
			}
			c.tasks.Upsert(updated)
			return nil
		},
		Command:      &journal.Command{Kind: cmdTaskUpdate, Payload: payload},
		NotifyQueued: true,
	})
}

// DeleteTask returns a callable mutation that deletes the task.
func (c *Client) DeleteTask(id string) *mutate.Wrapped {
	payload, _ := json.Marshal(deletePayload{ID: id})

	var prior domain.Task
	var existed bool
	return c.NewMutation(mutate.Mutation{
		Description: "delete task " + id,
		Optimistic: func() {
			prior, existed = c.tasks.Get(id)
			c.tasks.Delete(id)
		},
		Rollback: func() {
			if existed {
				c.tasks.Upsert(prior)
			}
		},
		Invoke: func(ctx context.Context) error {
			return c.backend.DeleteTask(ctx, id)
		},
		Command:      &journal.Command{Kind: cmdTaskDelete, Payload: payload},
		NotifyQueued: true,
	})
}
