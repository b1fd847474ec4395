package tasks

import "time"

// TaskStatus is shared by tasks and child tasks.
type TaskStatus int

const (
	TaskStatusDisabled   TaskStatus = 0
	TaskStatusNotStarted TaskStatus = 1
	TaskStatusInProgress TaskStatus = 2
	TaskStatusCompleted  TaskStatus = 3
	TaskStatusCanceled   TaskStatus = 4
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusDisabled:
		return "disabled"
	case TaskStatusNotStarted:
		return "not_started"
	case TaskStatusInProgress:
		return "in_progress"
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Finished reports whether the status closes the item for ranking purposes.
func (s TaskStatus) Finished() bool {
	return s == TaskStatusCompleted || s == TaskStatusCanceled
}

type TaskPriority int

const (
	TaskPriorityNone TaskPriority = 0
	TaskPriorityP3   TaskPriority = 1
	TaskPriorityP2   TaskPriority = 2
	TaskPriorityP1   TaskPriority = 3
	TaskPriorityP0   TaskPriority = 4
)

type Task struct {
	ID          string       `json:"task_id"`
	GroupID     string       `json:"task_group_id,omitempty"`
	TeamID      string       `json:"team_id,omitempty"`
	Name        string       `json:"task_name"`
	Description string       `json:"task_description,omitempty"`
	Status      TaskStatus   `json:"task_status"`
	Priority    TaskPriority `json:"task_priority"`
	StartDate   Date         `json:"start_time,omitempty"`
	DueDate     Date         `json:"due_time,omitempty"`
	FinishDate  Date         `json:"finish_time,omitempty"`
	Deleted     bool         `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`

	// GroupName is filled on reads that join the owning group.
	GroupName string `json:"task_group_name,omitempty"`
}

type ChildTask struct {
	ID         string     `json:"child_task_id"`
	TaskID     string     `json:"task_id"`
	Name       string     `json:"child_task_name"`
	Status     TaskStatus `json:"child_task_status"`
	Index      int        `json:"child_task_index"`
	AssigneeID string     `json:"child_task_assignee_id,omitempty"`
	DueDate    Date       `json:"due_time,omitempty"`
	FinishDate Date       `json:"finish_time,omitempty"`
	Deleted    bool       `json:"-"`
}

type TaskGroup struct {
	ID          string `json:"task_group_id"`
	TeamID      string `json:"team_id,omitempty"`
	Name        string `json:"group_name"`
	Description string `json:"group_description,omitempty"`
	Deleted     bool   `json:"-"`
}

// TaskUserRelation links a user to a task they own or collaborate on.
type TaskUserRelation struct {
	ID      string `json:"id"`
	TaskID  string `json:"task_id"`
	UserID  string `json:"user_id"`
	IsOwner bool   `json:"if_owner"`
}

// DateWindow is an inclusive due-date range.
type DateWindow struct {
	From Date
	To   Date
}

func (w DateWindow) Contains(d Date) bool {
	if d.IsZero() {
		return false
	}
	return !d.Before(w.From) && !w.To.Before(d)
}

// ChildTaskQuery selects open child tasks due inside Window. A child matches
// when its parent is in ParentIDs or, if AssigneeID is set, when it is
// assigned to that user.
type ChildTaskQuery struct {
	ParentIDs  []string
	AssigneeID string
	Window     DateWindow
}
