package report

import (
	"context"
	"testing"

	"github.com/ent0n29/ducktodo/internal/tasks"
)

const testUser = "u1"

type seeder struct {
	t     *testing.T
	store *tasks.InMemoryStore
}

func newSeeder(t *testing.T) *seeder {
	t.Helper()
	return &seeder{t: t, store: tasks.NewInMemoryStore()}
}

func (s *seeder) task(task tasks.Task, members ...string) tasks.Task {
	s.t.Helper()
	ctx := context.Background()
	if err := s.store.SaveTask(ctx, task); err != nil {
		s.t.Fatalf("SaveTask() error = %v", err)
	}
	for _, user := range members {
		if err := s.store.AddMember(ctx, tasks.TaskUserRelation{TaskID: task.ID, UserID: user}); err != nil {
			s.t.Fatalf("AddMember() error = %v", err)
		}
	}
	return task
}

func (s *seeder) child(c tasks.ChildTask) tasks.ChildTask {
	s.t.Helper()
	if err := s.store.SaveChildTask(context.Background(), c); err != nil {
		s.t.Fatalf("SaveChildTask() error = %v", err)
	}
	return c
}

func (s *seeder) group(g tasks.TaskGroup) {
	s.t.Helper()
	if err := s.store.SaveTaskGroup(context.Background(), g); err != nil {
		s.t.Fatalf("SaveTaskGroup() error = %v", err)
	}
}

// seedScenario builds task T due today with C1 completed today and C2 open,
// due tomorrow.
func seedScenario(t *testing.T) *seeder {
	t.Helper()
	today := tasks.Today()
	s := newSeeder(t)
	s.group(tasks.TaskGroup{ID: "g1", Name: "研发"})
	s.task(tasks.Task{ID: "T", GroupID: "g1", Name: "发布 v2", Status: tasks.TaskStatusInProgress, DueDate: today}, testUser)
	s.child(tasks.ChildTask{ID: "C1", TaskID: "T", Name: "写测试", Status: tasks.TaskStatusCompleted, FinishDate: today, DueDate: today})
	s.child(tasks.ChildTask{ID: "C2", TaskID: "T", Name: "写文档", Status: tasks.TaskStatusNotStarted, DueDate: today.AddDays(1)})
	return s
}

func TestAggregateCompletedChildForcesParent(t *testing.T) {
	s := seedScenario(t)
	got, err := NewAggregator(s.store).AggregateCompleted(context.Background(), testUser, tasks.Today())
	if err != nil {
		t.Fatalf("AggregateCompleted() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("AggregateCompleted() len = %d, want 1: %+v", len(got), got)
	}
	entry := got[0]
	if entry.Task.ID != "T" || entry.Task.Status != tasks.TaskStatusInProgress {
		t.Fatalf("entry task = %+v, want unfinished T", entry.Task)
	}
	if entry.Task.GroupName != "研发" {
		t.Fatalf("GroupName = %q, want 研发", entry.Task.GroupName)
	}
	if len(entry.ChildTasks) != 1 || entry.ChildTasks[0].ID != "C1" {
		t.Fatalf("ChildTasks = %+v, want only C1", entry.ChildTasks)
	}
}

func TestAggregateCompletedDeduplicatesTasks(t *testing.T) {
	today := tasks.Today()
	s := newSeeder(t)
	s.task(tasks.Task{ID: "A", Name: "A", Status: tasks.TaskStatusCompleted, FinishDate: today}, testUser)
	s.child(tasks.ChildTask{ID: "a1", TaskID: "A", Name: "a1", Status: tasks.TaskStatusCompleted, FinishDate: today})
	s.child(tasks.ChildTask{ID: "a2", TaskID: "A", Name: "a2", Status: tasks.TaskStatusCompleted, FinishDate: today, AssigneeID: testUser})
	s.task(tasks.Task{ID: "B", Name: "B", Status: tasks.TaskStatusCompleted, FinishDate: today}, testUser)
	s.task(tasks.Task{ID: "old", Name: "old", Status: tasks.TaskStatusCompleted, FinishDate: today.AddDays(-1)}, testUser)

	got, err := NewAggregator(s.store).AggregateCompleted(context.Background(), testUser, "")
	if err != nil {
		t.Fatalf("AggregateCompleted() error = %v", err)
	}
	seen := make(map[string]int)
	for _, e := range got {
		seen[e.Task.ID]++
	}
	if len(got) != 2 || seen["A"] != 1 || seen["B"] != 1 {
		t.Fatalf("AggregateCompleted() tasks = %v, want A and B once each", seen)
	}
	for _, e := range got {
		if e.Task.ID == "A" && len(e.ChildTasks) != 2 {
			t.Fatalf("A children = %+v, want a1 and a2", e.ChildTasks)
		}
		if e.Task.ID == "B" && (e.ChildTasks == nil || len(e.ChildTasks) != 0) {
			t.Fatalf("B children = %#v, want empty non-nil list", e.ChildTasks)
		}
	}
}

func TestAggregateCompletedAssigneePathAndOrphans(t *testing.T) {
	today := tasks.Today()
	s := newSeeder(t)
	// Parent the user is not a member of; reached through assignment.
	s.task(tasks.Task{ID: "P", Name: "P", Status: tasks.TaskStatusInProgress})
	s.child(tasks.ChildTask{ID: "p1", TaskID: "P", Name: "p1", Status: tasks.TaskStatusCompleted, FinishDate: today, AssigneeID: testUser})
	s.task(tasks.Task{ID: "gone", Name: "gone", Deleted: true})
	s.child(tasks.ChildTask{ID: "orphan", TaskID: "gone", Name: "orphan", Status: tasks.TaskStatusCompleted, FinishDate: today, AssigneeID: testUser})
	s.child(tasks.ChildTask{ID: "other", TaskID: "P", Name: "other", Status: tasks.TaskStatusCompleted, FinishDate: today, AssigneeID: "u2"})

	got, err := NewAggregator(s.store).AggregateCompleted(context.Background(), testUser, today)
	if err != nil {
		t.Fatalf("AggregateCompleted() error = %v", err)
	}
	if len(got) != 1 || got[0].Task.ID != "P" {
		t.Fatalf("AggregateCompleted() = %+v, want only P", got)
	}
	if len(got[0].ChildTasks) != 1 || got[0].ChildTasks[0].ID != "p1" {
		t.Fatalf("P children = %+v, want only p1", got[0].ChildTasks)
	}
}

func TestAggregateCompletedEmpty(t *testing.T) {
	got, err := NewAggregator(tasks.NewInMemoryStore()).AggregateCompleted(context.Background(), testUser, tasks.Today())
	if err != nil {
		t.Fatalf("AggregateCompleted() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("AggregateCompleted() = %#v, want empty list", got)
	}
}

func TestToTodoEntries(t *testing.T) {
	got := ToTodoEntries([]CompletedEntry{{
		Task:       tasks.Task{ID: "T", Name: "发布", Status: tasks.TaskStatusInProgress, GroupName: "研发"},
		ChildTasks: []tasks.ChildTask{{ID: "c", Name: "写测试", Status: tasks.TaskStatusCompleted}},
	}})
	if len(got) != 1 {
		t.Fatalf("ToTodoEntries() len = %d, want 1", len(got))
	}
	e := got[0]
	if e.TaskName != "发布" || e.GroupName != "研发" || e.TaskStatus != tasks.TaskStatusInProgress {
		t.Fatalf("entry = %+v", e)
	}
	if len(e.Children) != 1 || e.Children[0].Name != "写测试" || e.Children[0].Status != tasks.TaskStatusCompleted {
		t.Fatalf("children = %+v", e.Children)
	}
}
