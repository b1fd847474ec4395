package tasks

import (
	"context"
	"errors"
)

var ErrStoreNotFound = errors.New("task not found in store")

// Store exposes the read paths the report engine needs, plus the writes used
// to seed data. Soft-deleted rows are never returned.
type Store interface {
	SaveTask(ctx context.Context, task Task) error
	SaveChildTask(ctx context.Context, child ChildTask) error
	SaveTaskGroup(ctx context.Context, group TaskGroup) error
	AddMember(ctx context.Context, rel TaskUserRelation) error

	// MembershipTaskIDs lists the ids of every task the user is related to.
	MembershipTaskIDs(ctx context.Context, userID string) ([]string, error)
	TasksByMembership(ctx context.Context, userID string) ([]Task, error)
	GetTask(ctx context.Context, taskID string) (Task, error)
	GetTaskGroup(ctx context.Context, groupID string) (TaskGroup, error)
	// TasksByIDs resolves tasks with their group name. Unknown ids are skipped.
	TasksByIDs(ctx context.Context, ids []string) ([]Task, error)

	ChildTasksByParent(ctx context.Context, taskID string) ([]ChildTask, error)
	ChildTasksByAssignee(ctx context.Context, userID string) ([]ChildTask, error)

	// CompletedChildTasksOn returns completed children finished on day whose
	// parent the user is related to or which are assigned to the user.
	// Most recently finished first.
	CompletedChildTasksOn(ctx context.Context, userID string, day Date) ([]ChildTask, error)
	// CompletedTasksOn returns the user's tasks completed on day, group-enriched.
	CompletedTasksOn(ctx context.Context, userID string, day Date) ([]Task, error)
	// OpenTasksDue returns unfinished tasks among ids with a due date in window.
	OpenTasksDue(ctx context.Context, ids []string, window DateWindow) ([]Task, error)
	OpenChildTasksDue(ctx context.Context, q ChildTaskQuery) ([]ChildTask, error)

	Close() error
}
