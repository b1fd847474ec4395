package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process task store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]Task
	children map[string]ChildTask
	groups   map[string]TaskGroup
	members  []TaskUserRelation

	// insertion order keeps results deterministic
	taskOrder  []string
	childOrder []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks:    make(map[string]Task),
		children: make(map[string]ChildTask),
		groups:   make(map[string]TaskGroup),
	}
}

func (s *InMemoryStore) SaveTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	task.GroupName = ""
	if _, ok := s.tasks[task.ID]; !ok {
		s.taskOrder = append(s.taskOrder, task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

func (s *InMemoryStore) SaveChildTask(_ context.Context, child ChildTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if child.ID == "" {
		child.ID = uuid.NewString()
	}
	if _, ok := s.children[child.ID]; !ok {
		s.childOrder = append(s.childOrder, child.ID)
	}
	s.children[child.ID] = child
	return nil
}

func (s *InMemoryStore) SaveTaskGroup(_ context.Context, group TaskGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	s.groups[group.ID] = group
	return nil
}

func (s *InMemoryStore) AddMember(_ context.Context, rel TaskUserRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.members {
		if existing.TaskID == rel.TaskID && existing.UserID == rel.UserID {
			return nil
		}
	}
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	s.members = append(s.members, rel)
	return nil
}

func (s *InMemoryStore) MembershipTaskIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membershipIDsLocked(userID), nil
}

func (s *InMemoryStore) TasksByMembership(_ context.Context, userID string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.membershipIDsLocked(userID)
	return s.tasksByIDsLocked(ids), nil
}

func (s *InMemoryStore) GetTask(_ context.Context, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok || task.Deleted {
		return Task{}, ErrStoreNotFound
	}
	return s.enrichLocked(task), nil
}

func (s *InMemoryStore) GetTaskGroup(_ context.Context, groupID string) (TaskGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[groupID]
	if !ok || group.Deleted {
		return TaskGroup{}, ErrStoreNotFound
	}
	return group, nil
}

func (s *InMemoryStore) TasksByIDs(_ context.Context, ids []string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasksByIDsLocked(ids), nil
}

func (s *InMemoryStore) ChildTasksByParent(_ context.Context, taskID string) ([]ChildTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.filterChildrenLocked(func(c ChildTask) bool { return c.TaskID == taskID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *InMemoryStore) ChildTasksByAssignee(_ context.Context, userID string) ([]ChildTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterChildrenLocked(func(c ChildTask) bool { return c.AssigneeID == userID }), nil
}

func (s *InMemoryStore) CompletedChildTasksOn(_ context.Context, userID string, day Date) ([]ChildTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member := toSet(s.membershipIDsLocked(userID))
	return s.filterChildrenLocked(func(c ChildTask) bool {
		if c.Status != TaskStatusCompleted || c.FinishDate != day {
			return false
		}
		_, related := member[c.TaskID]
		return related || c.AssigneeID == userID
	}), nil
}

func (s *InMemoryStore) CompletedTasksOn(_ context.Context, userID string, day Date) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.membershipIDsLocked(userID)
	out := make([]Task, 0)
	for _, task := range s.tasksByIDsLocked(ids) {
		if task.Status == TaskStatusCompleted && task.FinishDate == day {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *InMemoryStore) OpenTasksDue(_ context.Context, ids []string, window DateWindow) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0)
	for _, task := range s.tasksByIDsLocked(ids) {
		if !task.Status.Finished() && window.Contains(task.DueDate) {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *InMemoryStore) OpenChildTasksDue(_ context.Context, q ChildTaskQuery) ([]ChildTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parents := toSet(q.ParentIDs)
	return s.filterChildrenLocked(func(c ChildTask) bool {
		if c.Status.Finished() || !q.Window.Contains(c.DueDate) {
			return false
		}
		if _, ok := parents[c.TaskID]; ok {
			return true
		}
		return q.AssigneeID != "" && c.AssigneeID == q.AssigneeID
	}), nil
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) membershipIDsLocked(userID string) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, rel := range s.members {
		if rel.UserID != userID {
			continue
		}
		if _, dup := seen[rel.TaskID]; dup {
			continue
		}
		seen[rel.TaskID] = struct{}{}
		ids = append(ids, rel.TaskID)
	}
	return ids
}

// tasksByIDsLocked walks insertion order so results do not depend on map iteration.
func (s *InMemoryStore) tasksByIDsLocked(ids []string) []Task {
	want := toSet(ids)
	out := make([]Task, 0, len(want))
	for _, id := range s.taskOrder {
		if _, ok := want[id]; !ok {
			continue
		}
		task := s.tasks[id]
		if task.Deleted {
			continue
		}
		out = append(out, s.enrichLocked(task))
	}
	return out
}

func (s *InMemoryStore) filterChildrenLocked(keep func(ChildTask) bool) []ChildTask {
	out := make([]ChildTask, 0)
	for _, id := range s.childOrder {
		c := s.children[id]
		if c.Deleted || !keep(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *InMemoryStore) enrichLocked(task Task) Task {
	if group, ok := s.groups[task.GroupID]; ok && !group.Deleted {
		task.GroupName = group.Name
	}
	return task
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
