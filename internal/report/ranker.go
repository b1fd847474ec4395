package report

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/ent0n29/ducktodo/internal/tasks"
)

const (
	DefaultTodoLimit     = 10
	DefaultTodoDaysAhead = 3
)

type ChildSummary struct {
	ID     string           `json:"-"`
	Name   string           `json:"child_task_name"`
	Status tasks.TaskStatus `json:"child_task_status"`
}

// TodoEntry is the prompt-facing view of a task and its relevant children.
type TodoEntry struct {
	TaskID     string           `json:"-"`
	TaskName   string           `json:"task_name"`
	TaskStatus tasks.TaskStatus `json:"task_status"`
	GroupName  string           `json:"task_group_name"`
	Children   []ChildSummary   `json:"child_task_list"`
}

func newTodoEntry(t tasks.Task) TodoEntry {
	return TodoEntry{
		TaskID:     t.ID,
		TaskName:   t.Name,
		TaskStatus: t.Status,
		GroupName:  t.GroupName,
		Children:   []ChildSummary{},
	}
}

// addChild appends c unless a child with the same id is already listed.
func (e *TodoEntry) addChild(c tasks.ChildTask) {
	for _, existing := range e.Children {
		if existing.ID == c.ID {
			return
		}
	}
	e.Children = append(e.Children, ChildSummary{ID: c.ID, Name: c.Name, Status: c.Status})
}

// Ranker picks the soonest-due open tasks and child tasks for a user.
type Ranker struct {
	store tasks.Store
}

func NewRanker(store tasks.Store) *Ranker {
	return &Ranker{store: store}
}

type candidate struct {
	due   tasks.Date
	task  *tasks.Task
	child *tasks.ChildTask
}

func (c candidate) parentID() string {
	if c.task != nil {
		return c.task.ID
	}
	return c.child.TaskID
}

// SelectUpcoming returns up to limit open items due within
// [today, today+daysAhead], grouped by parent task in order of first
// appearance. Every surfaced parent carries its full set of open, due
// children. limit <= 0 selects DefaultTodoLimit; daysAhead < 0 selects
// DefaultTodoDaysAhead.
func (r *Ranker) SelectUpcoming(ctx context.Context, userID string, limit, daysAhead int) ([]TodoEntry, error) {
	if limit <= 0 {
		limit = DefaultTodoLimit
	}
	if daysAhead < 0 {
		daysAhead = DefaultTodoDaysAhead
	}
	today := tasks.Today()
	window := tasks.DateWindow{From: today, To: today.AddDays(daysAhead)}

	memberIDs, err := r.store.MembershipTaskIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load task memberships: %w", err)
	}

	var openTasks []tasks.Task
	if len(memberIDs) > 0 {
		openTasks, err = r.store.OpenTasksDue(ctx, memberIDs, window)
		if err != nil {
			return nil, fmt.Errorf("load open tasks: %w", err)
		}
	}
	openChildren, err := r.store.OpenChildTasksDue(ctx, tasks.ChildTaskQuery{
		ParentIDs:  memberIDs,
		AssigneeID: userID,
		Window:     window,
	})
	if err != nil {
		return nil, fmt.Errorf("load open child tasks: %w", err)
	}

	candidates := make([]candidate, 0, len(openTasks)+len(openChildren))
	for i := range openTasks {
		if openTasks[i].DueDate.IsZero() {
			continue
		}
		candidates = append(candidates, candidate{due: openTasks[i].DueDate, task: &openTasks[i]})
	}
	for i := range openChildren {
		if openChildren[i].DueDate.IsZero() {
			continue
		}
		candidates = append(candidates, candidate{due: openChildren[i].DueDate, child: &openChildren[i]})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].due.Before(candidates[j].due)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	if len(candidates) == 0 {
		return []TodoEntry{}, nil
	}

	parents := make(map[string]tasks.Task)
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.task != nil {
			parents[c.task.ID] = *c.task
		}
		if id := c.parentID(); !contains(order, id) {
			order = append(order, id)
		}
	}
	var missing []string
	for _, id := range order {
		if _, ok := parents[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		found, err := r.store.TasksByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("resolve parent tasks: %w", err)
		}
		for _, t := range found {
			parents[t.ID] = t
		}
	}

	resolvedIDs := make([]string, 0, len(order))
	for _, id := range order {
		if _, ok := parents[id]; ok {
			resolvedIDs = append(resolvedIDs, id)
		}
	}
	siblings := make(map[string][]tasks.ChildTask, len(resolvedIDs))
	if len(resolvedIDs) > 0 {
		all, err := r.store.OpenChildTasksDue(ctx, tasks.ChildTaskQuery{ParentIDs: resolvedIDs, Window: window})
		if err != nil {
			return nil, fmt.Errorf("load sibling child tasks: %w", err)
		}
		for _, c := range all {
			siblings[c.TaskID] = append(siblings[c.TaskID], c)
		}
	}

	out := make([]TodoEntry, 0, len(resolvedIDs))
	index := make(map[string]int, len(resolvedIDs))
	for _, c := range candidates {
		id := c.parentID()
		parent, ok := parents[id]
		if !ok {
			log.Printf("daily report: dropping child task %s, parent task %s not found", c.child.ID, id)
			continue
		}
		i, ok := index[id]
		if !ok {
			entry := newTodoEntry(parent)
			for _, sib := range siblings[id] {
				entry.addChild(sib)
			}
			i = len(out)
			index[id] = i
			out = append(out, entry)
		}
		if c.child != nil {
			out[i].addChild(*c.child)
		}
	}
	return out, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
