package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_groups (
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL DEFAULT '',
			group_name TEXT NOT NULL,
			group_description TEXT NOT NULL DEFAULT '',
			is_delete BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			task_group_id TEXT NOT NULL DEFAULT '',
			team_id TEXT NOT NULL DEFAULT '',
			task_name TEXT NOT NULL,
			task_description TEXT NOT NULL DEFAULT '',
			task_status SMALLINT NOT NULL,
			task_priority SMALLINT NOT NULL DEFAULT 0,
			start_time DATE NULL,
			due_time DATE NULL,
			finish_time DATE NULL,
			is_delete BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_finish ON tasks (finish_time, task_status);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks (due_time);`,
		`CREATE TABLE IF NOT EXISTS child_tasks (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			child_task_name TEXT NOT NULL,
			child_task_status SMALLINT NOT NULL,
			child_task_index INTEGER NOT NULL DEFAULT 0,
			child_task_assignee_id TEXT NOT NULL DEFAULT '',
			due_time DATE NULL,
			finish_time DATE NULL,
			is_delete BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_child_tasks_task ON child_tasks (task_id, child_task_index);`,
		`CREATE INDEX IF NOT EXISTS idx_child_tasks_assignee ON child_tasks (child_task_assignee_id);`,
		`CREATE TABLE IF NOT EXISTS task_user_relations (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			if_owner BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (task_id, user_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_user_relations_user ON task_user_relations (user_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const taskColumns = `t.id, t.task_group_id, t.team_id, t.task_name, t.task_description, t.task_status, t.task_priority,
	COALESCE(to_char(t.start_time, 'YYYY-MM-DD'), ''),
	COALESCE(to_char(t.due_time, 'YYYY-MM-DD'), ''),
	COALESCE(to_char(t.finish_time, 'YYYY-MM-DD'), ''),
	t.created_at, t.updated_at, COALESCE(g.group_name, '')`

const taskFrom = `FROM tasks t LEFT JOIN task_groups g ON g.id = t.task_group_id AND NOT g.is_delete`

const childColumns = `c.id, c.task_id, c.child_task_name, c.child_task_status, c.child_task_index, c.child_task_assignee_id,
	COALESCE(to_char(c.due_time, 'YYYY-MM-DD'), ''),
	COALESCE(to_char(c.finish_time, 'YYYY-MM-DD'), '')`

func (s *PostgresStore) SaveTask(ctx context.Context, task Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (
			id, task_group_id, team_id, task_name, task_description, task_status, task_priority,
			start_time, due_time, finish_time, is_delete, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			task_group_id=EXCLUDED.task_group_id,
			team_id=EXCLUDED.team_id,
			task_name=EXCLUDED.task_name,
			task_description=EXCLUDED.task_description,
			task_status=EXCLUDED.task_status,
			task_priority=EXCLUDED.task_priority,
			start_time=EXCLUDED.start_time,
			due_time=EXCLUDED.due_time,
			finish_time=EXCLUDED.finish_time,
			is_delete=EXCLUDED.is_delete,
			updated_at=EXCLUDED.updated_at`,
		task.ID,
		task.GroupID,
		task.TeamID,
		task.Name,
		task.Description,
		int(task.Status),
		int(task.Priority),
		dateArg(task.StartDate),
		dateArg(task.DueDate),
		dateArg(task.FinishDate),
		task.Deleted,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveChildTask(ctx context.Context, child ChildTask) error {
	if child.ID == "" {
		child.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO child_tasks (
			id, task_id, child_task_name, child_task_status, child_task_index, child_task_assignee_id,
			due_time, finish_time, is_delete, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (id) DO UPDATE SET
			task_id=EXCLUDED.task_id,
			child_task_name=EXCLUDED.child_task_name,
			child_task_status=EXCLUDED.child_task_status,
			child_task_index=EXCLUDED.child_task_index,
			child_task_assignee_id=EXCLUDED.child_task_assignee_id,
			due_time=EXCLUDED.due_time,
			finish_time=EXCLUDED.finish_time,
			is_delete=EXCLUDED.is_delete,
			updated_at=now()`,
		child.ID,
		child.TaskID,
		child.Name,
		int(child.Status),
		child.Index,
		child.AssigneeID,
		dateArg(child.DueDate),
		dateArg(child.FinishDate),
		child.Deleted,
	)
	if err != nil {
		return fmt.Errorf("upsert child task: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveTaskGroup(ctx context.Context, group TaskGroup) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_groups (id, team_id, group_name, group_description, is_delete)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET
			team_id=EXCLUDED.team_id,
			group_name=EXCLUDED.group_name,
			group_description=EXCLUDED.group_description,
			is_delete=EXCLUDED.is_delete`,
		group.ID, group.TeamID, group.Name, group.Description, group.Deleted,
	)
	if err != nil {
		return fmt.Errorf("upsert task group: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddMember(ctx context.Context, rel TaskUserRelation) error {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_user_relations (id, task_id, user_id, if_owner)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (task_id, user_id) DO NOTHING`,
		rel.ID, rel.TaskID, rel.UserID, rel.IsOwner,
	)
	if err != nil {
		return fmt.Errorf("insert task membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) MembershipTaskIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT r.task_id FROM task_user_relations r WHERE r.user_id=$1 ORDER BY r.task_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list membership ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan membership ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) TasksByMembership(ctx context.Context, userID string) ([]Task, error) {
	return s.queryTasks(ctx, "tasks by membership",
		`SELECT `+taskColumns+` `+taskFrom+`
		  INNER JOIN task_user_relations r ON r.task_id = t.id
		  WHERE r.user_id=$1 AND NOT t.is_delete
		  ORDER BY t.created_at DESC`,
		userID,
	)
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` `+taskFrom+` WHERE t.id=$1 AND NOT t.is_delete`,
		taskID,
	)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) GetTaskGroup(ctx context.Context, groupID string) (TaskGroup, error) {
	var g TaskGroup
	err := s.pool.QueryRow(ctx,
		`SELECT id, team_id, group_name, group_description FROM task_groups WHERE id=$1 AND NOT is_delete`,
		groupID,
	).Scan(&g.ID, &g.TeamID, &g.Name, &g.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaskGroup{}, ErrStoreNotFound
		}
		return TaskGroup{}, fmt.Errorf("get task group: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) TasksByIDs(ctx context.Context, ids []string) ([]Task, error) {
	if len(ids) == 0 {
		return []Task{}, nil
	}
	return s.queryTasks(ctx, "tasks by ids",
		`SELECT `+taskColumns+` `+taskFrom+`
		  WHERE t.id = ANY($1) AND NOT t.is_delete
		  ORDER BY t.created_at`,
		ids,
	)
}

func (s *PostgresStore) ChildTasksByParent(ctx context.Context, taskID string) ([]ChildTask, error) {
	return s.queryChildren(ctx, "child tasks by parent",
		`SELECT `+childColumns+` FROM child_tasks c
		  WHERE c.task_id=$1 AND NOT c.is_delete
		  ORDER BY c.child_task_index`,
		taskID,
	)
}

func (s *PostgresStore) ChildTasksByAssignee(ctx context.Context, userID string) ([]ChildTask, error) {
	return s.queryChildren(ctx, "child tasks by assignee",
		`SELECT `+childColumns+` FROM child_tasks c
		  WHERE c.child_task_assignee_id=$1 AND NOT c.is_delete
		  ORDER BY c.task_id, c.child_task_index`,
		userID,
	)
}

func (s *PostgresStore) CompletedChildTasksOn(ctx context.Context, userID string, day Date) ([]ChildTask, error) {
	return s.queryChildren(ctx, "completed child tasks",
		`SELECT `+childColumns+` FROM child_tasks c
		  WHERE c.child_task_status=$3
		    AND c.finish_time=$2
		    AND NOT c.is_delete
		    AND (c.child_task_assignee_id=$1
		         OR EXISTS (SELECT 1 FROM task_user_relations r WHERE r.task_id=c.task_id AND r.user_id=$1))
		  ORDER BY c.updated_at DESC, c.id`,
		userID, dateArg(day), int(TaskStatusCompleted),
	)
}

func (s *PostgresStore) CompletedTasksOn(ctx context.Context, userID string, day Date) ([]Task, error) {
	return s.queryTasks(ctx, "completed tasks",
		`SELECT `+taskColumns+` `+taskFrom+`
		  INNER JOIN task_user_relations r ON r.task_id = t.id
		  WHERE r.user_id=$1 AND t.finish_time=$2 AND t.task_status=$3 AND NOT t.is_delete
		  ORDER BY t.updated_at DESC, t.id`,
		userID, dateArg(day), int(TaskStatusCompleted),
	)
}

func (s *PostgresStore) OpenTasksDue(ctx context.Context, ids []string, window DateWindow) ([]Task, error) {
	if len(ids) == 0 {
		return []Task{}, nil
	}
	return s.queryTasks(ctx, "open tasks due",
		`SELECT `+taskColumns+` `+taskFrom+`
		  WHERE t.id = ANY($1)
		    AND t.due_time IS NOT NULL AND t.due_time BETWEEN $2 AND $3
		    AND t.task_status NOT IN ($4, $5)
		    AND NOT t.is_delete
		  ORDER BY t.due_time, t.id`,
		ids, dateArg(window.From), dateArg(window.To), int(TaskStatusCompleted), int(TaskStatusCanceled),
	)
}

func (s *PostgresStore) OpenChildTasksDue(ctx context.Context, q ChildTaskQuery) ([]ChildTask, error) {
	parents := q.ParentIDs
	if parents == nil {
		parents = []string{}
	}
	return s.queryChildren(ctx, "open child tasks due",
		`SELECT `+childColumns+` FROM child_tasks c
		  WHERE (c.task_id = ANY($1) OR ($2 <> '' AND c.child_task_assignee_id = $2))
		    AND c.due_time IS NOT NULL AND c.due_time BETWEEN $3 AND $4
		    AND c.child_task_status NOT IN ($5, $6)
		    AND NOT c.is_delete
		  ORDER BY c.due_time, c.task_id, c.child_task_index`,
		parents, q.AssigneeID, dateArg(q.Window.From), dateArg(q.Window.To),
		int(TaskStatusCompleted), int(TaskStatusCanceled),
	)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) queryTasks(ctx context.Context, op, sql string, args ...any) ([]Task, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) queryChildren(ctx context.Context, op, sql string, args ...any) ([]ChildTask, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]ChildTask, 0)
	for rows.Next() {
		var (
			c             ChildTask
			status        int
			due, finished string
		)
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Name, &status, &c.Index, &c.AssigneeID, &due, &finished); err != nil {
			return nil, fmt.Errorf("scan child task row: %w", err)
		}
		c.Status = TaskStatus(status)
		c.DueDate = Date(due)
		c.FinishDate = Date(finished)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate child task rows: %w", err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		task                 Task
		status, priority     int
		start, due, finished string
	)
	if err := row.Scan(
		&task.ID,
		&task.GroupID,
		&task.TeamID,
		&task.Name,
		&task.Description,
		&status,
		&priority,
		&start,
		&due,
		&finished,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.GroupName,
	); err != nil {
		return Task{}, err
	}
	task.Status = TaskStatus(status)
	task.Priority = TaskPriority(priority)
	task.StartDate = Date(start)
	task.DueDate = Date(due)
	task.FinishDate = Date(finished)
	return task, nil
}

// dateArg maps the zero Date to SQL NULL.
func dateArg(d Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time()
	if t.IsZero() {
		return nil
	}
	return &t
}
