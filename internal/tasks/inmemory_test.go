package tasks

import (
	"context"
	"errors"
	"testing"
)

func seedStore(t *testing.T) *InMemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewInMemoryStore()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed error = %v", err)
		}
	}
	must(s.SaveTaskGroup(ctx, TaskGroup{ID: "g1", Name: "Backend"}))
	must(s.SaveTask(ctx, Task{ID: "t1", GroupID: "g1", Name: "API", Status: TaskStatusCompleted, FinishDate: "2024-05-01", DueDate: "2024-05-01"}))
	must(s.SaveTask(ctx, Task{ID: "t2", Name: "Docs", Status: TaskStatusInProgress, DueDate: "2024-05-02"}))
	must(s.SaveTask(ctx, Task{ID: "t3", Name: "Old", Status: TaskStatusInProgress, DueDate: "2024-05-02", Deleted: true}))
	must(s.SaveTask(ctx, Task{ID: "t4", Name: "Foreign", Status: TaskStatusInProgress, DueDate: "2024-05-02"}))
	for _, id := range []string{"t1", "t2", "t3"} {
		must(s.AddMember(ctx, TaskUserRelation{TaskID: id, UserID: "u1", IsOwner: true}))
	}
	must(s.AddMember(ctx, TaskUserRelation{TaskID: "t1", UserID: "u1"}))

	must(s.SaveChildTask(ctx, ChildTask{ID: "c1", TaskID: "t1", Name: "handler", Status: TaskStatusCompleted, FinishDate: "2024-05-01", Index: 2}))
	must(s.SaveChildTask(ctx, ChildTask{ID: "c2", TaskID: "t1", Name: "tests", Status: TaskStatusNotStarted, DueDate: "2024-05-03", Index: 1}))
	must(s.SaveChildTask(ctx, ChildTask{ID: "c3", TaskID: "t4", Name: "review", Status: TaskStatusCompleted, FinishDate: "2024-05-01", AssigneeID: "u1"}))
	must(s.SaveChildTask(ctx, ChildTask{ID: "c4", TaskID: "t4", Name: "deploy", Status: TaskStatusInProgress, DueDate: "2024-05-02", AssigneeID: "u1"}))
	must(s.SaveChildTask(ctx, ChildTask{ID: "c5", TaskID: "t2", Name: "gone", Status: TaskStatusNotStarted, DueDate: "2024-05-02", Deleted: true}))
	return s
}

func TestInMemoryMembershipSkipsDuplicatesAndDeleted(t *testing.T) {
	s := seedStore(t)
	ids, err := s.MembershipTaskIDs(context.Background(), "u1")
	if err != nil {
		t.Fatalf("MembershipTaskIDs() error = %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("MembershipTaskIDs() = %v, want 3 distinct ids", ids)
	}
	got, err := s.TasksByMembership(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TasksByMembership() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "t1" || got[1].ID != "t2" {
		t.Fatalf("TasksByMembership() = %+v, want t1,t2", got)
	}
	if got[0].GroupName != "Backend" {
		t.Fatalf("group name = %q, want Backend", got[0].GroupName)
	}
	if _, err := s.GetTask(context.Background(), "t3"); !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("GetTask(deleted) error = %v, want ErrStoreNotFound", err)
	}
}

func TestInMemoryCompletedOn(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	children, err := s.CompletedChildTasksOn(ctx, "u1", "2024-05-01")
	if err != nil {
		t.Fatalf("CompletedChildTasksOn() error = %v", err)
	}
	if len(children) != 2 || children[0].ID != "c1" || children[1].ID != "c3" {
		t.Fatalf("CompletedChildTasksOn() = %+v, want c1 via membership and c3 via assignee", children)
	}

	done, err := s.CompletedTasksOn(ctx, "u1", "2024-05-01")
	if err != nil {
		t.Fatalf("CompletedTasksOn() error = %v", err)
	}
	if len(done) != 1 || done[0].ID != "t1" {
		t.Fatalf("CompletedTasksOn() = %+v, want t1", done)
	}
	if other, _ := s.CompletedTasksOn(ctx, "u1", "2024-05-02"); len(other) != 0 {
		t.Fatalf("CompletedTasksOn(other day) = %+v, want none", other)
	}
}

func TestInMemoryOpenDue(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	window := DateWindow{From: "2024-05-01", To: "2024-05-03"}

	open, err := s.OpenTasksDue(ctx, []string{"t1", "t2", "t3"}, window)
	if err != nil {
		t.Fatalf("OpenTasksDue() error = %v", err)
	}
	if len(open) != 1 || open[0].ID != "t2" {
		t.Fatalf("OpenTasksDue() = %+v, want t2 only", open)
	}

	children, err := s.OpenChildTasksDue(ctx, ChildTaskQuery{ParentIDs: []string{"t1", "t2"}, AssigneeID: "u1", Window: window})
	if err != nil {
		t.Fatalf("OpenChildTasksDue() error = %v", err)
	}
	if len(children) != 2 || children[0].ID != "c2" || children[1].ID != "c4" {
		t.Fatalf("OpenChildTasksDue() = %+v, want c2,c4", children)
	}

	byParent, err := s.ChildTasksByParent(ctx, "t1")
	if err != nil {
		t.Fatalf("ChildTasksByParent() error = %v", err)
	}
	if len(byParent) != 2 || byParent[0].ID != "c2" {
		t.Fatalf("ChildTasksByParent() = %+v, want index order", byParent)
	}
}
