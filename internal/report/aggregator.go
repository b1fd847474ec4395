package report

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ent0n29/ducktodo/internal/tasks"
)

// CompletedEntry is a task together with the children finished on the
// aggregated day. The task itself may still be open.
type CompletedEntry struct {
	Task       tasks.Task        `json:"task"`
	ChildTasks []tasks.ChildTask `json:"child_tasks"`
}

// Aggregator reconciles a user's completed tasks and child tasks for one day.
type Aggregator struct {
	store tasks.Store
}

func NewAggregator(store tasks.Store) *Aggregator {
	return &Aggregator{store: store}
}

// AggregateCompleted returns one entry per task touched on day: tasks whose
// children were completed that day (with those children attached) followed
// by tasks completed that day without completed children. A zero day means
// today. Reads are issued sequentially.
func (a *Aggregator) AggregateCompleted(ctx context.Context, userID string, day tasks.Date) ([]CompletedEntry, error) {
	if day.IsZero() {
		day = tasks.Today()
	}

	children, err := a.store.CompletedChildTasksOn(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("load completed child tasks: %w", err)
	}
	completed, err := a.store.CompletedTasksOn(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("load completed tasks: %w", err)
	}

	ids := make([]string, 0, len(children)+len(completed))
	seen := make(map[string]struct{}, cap(ids))
	addID := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, c := range children {
		addID(c.TaskID)
	}
	for _, t := range completed {
		addID(t.ID)
	}

	resolved := make(map[string]tasks.Task, len(ids))
	if len(ids) > 0 {
		parents, err := a.store.TasksByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve tasks: %w", err)
		}
		for _, t := range parents {
			resolved[t.ID] = t
		}
	}

	entries := make([]CompletedEntry, 0, len(ids))
	index := make(map[string]int, len(ids))
	for _, child := range children {
		if i, ok := index[child.TaskID]; ok {
			entries[i].ChildTasks = append(entries[i].ChildTasks, child)
			continue
		}
		parent, ok := resolved[child.TaskID]
		if !ok {
			parent, err = a.store.GetTask(ctx, child.TaskID)
			if errors.Is(err, tasks.ErrStoreNotFound) {
				log.Printf("daily report: dropping child task %s, parent task %s not found", child.ID, child.TaskID)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("resolve parent task %s: %w", child.TaskID, err)
			}
			resolved[parent.ID] = parent
		}
		index[parent.ID] = len(entries)
		entries = append(entries, CompletedEntry{Task: parent, ChildTasks: []tasks.ChildTask{child}})
	}

	for _, t := range completed {
		if _, ok := index[t.ID]; ok {
			continue
		}
		if full, ok := resolved[t.ID]; ok {
			t = full
		}
		index[t.ID] = len(entries)
		entries = append(entries, CompletedEntry{Task: t, ChildTasks: []tasks.ChildTask{}})
	}
	return entries, nil
}

// ToTodoEntries reshapes aggregated entries into the flat list used in prompts.
func ToTodoEntries(entries []CompletedEntry) []TodoEntry {
	out := make([]TodoEntry, 0, len(entries))
	for _, e := range entries {
		item := newTodoEntry(e.Task)
		for _, c := range e.ChildTasks {
			item.addChild(c)
		}
		out = append(out, item)
	}
	return out
}
