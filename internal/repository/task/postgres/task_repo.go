package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"taskTracker/internal/logger"
	"taskTracker/internal/models/task"
	repo "taskTracker/internal/repository"
	"taskTracker/internal/service"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const taskColumns = `id, owner_id, title, description, priority, status, completed, deleted, created_at, updated_at`

type Storage struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	LockTimeout     time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxConns:        10,
		MinConns:        2,
		MaxConnIdleTime: time.Minute * 5,
		LockTimeout:     time.Second * 5,
	}
}

func New(ctx context.Context, connString string, opts Options) (*Storage, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		logger.Error("Repository: Ошибка загрузки конфига", err)
		return nil, fmt.Errorf("загрузка конфига: %w", err)
	}

	defaults := DefaultOptions()
	if opts.MaxConns <= 0 {
		opts.MaxConns = defaults.MaxConns
	}
	if opts.MinConns <= 0 {
		opts.MinConns = defaults.MinConns
	}
	if opts.MaxConnIdleTime <= 0 {
		opts.MaxConnIdleTime = defaults.MaxConnIdleTime
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaults.LockTimeout
	}

	config.MaxConns = opts.MaxConns
	config.MinConns = opts.MinConns
	config.MaxConnIdleTime = opts.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		logger.Error("Repository: Ошибка создания пула", err)
		return nil, fmt.Errorf("создание пула: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		logger.Error("Repository: Неудачная проверка ping", err)
		return nil, fmt.Errorf("проверка соединения ping: %w", err)
	}

	logger.Info("Repository: Успешное создание подключения к PostgreSQL")
	return &Storage{pool: pool, lockTimeout: opts.LockTimeout}, nil
}

var _ service.TaskRepository = (*Storage)(nil)

func (s *Storage) Close() {
	s.pool.Close()
	logger.Info("Repository: Закрытие всех соединений PostgreSQL")
}

func (s *Storage) HealthCheck(ctx context.Context) error {
	err := s.pool.Ping(ctx)
	if err != nil {
		logger.Error("Repository: Неудачная проверка ping", err)
		return fmt.Errorf("проверка соединения ping: %w", err)
	}
	return nil
}

func (s *Storage) GetByID(ctx context.Context, owner string, id uuid.UUID) (*task.Task, error) {
	start := time.Now()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND owner_id = $2`

	t, err := scanTask(s.pool.QueryRow(ctx, query, id, owner))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			logger.Error("Repository: Не удалось получить задачу", err, zap.Duration("ms", time.Since(start)))
		}
		return nil, mapError(err, "получение задачи")
	}

	warnIfSlow(start, time.Millisecond*100)
	return t, nil
}

// ListActive - активные задачи владельца по возрастанию приоритета
func (s *Storage) ListActive(ctx context.Context, owner string, filter task.Filter) ([]*task.Task, error) {
	start := time.Now()

	q := newQuery(`SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = `)
	q.arg(owner)
	q.sql.WriteString(` AND NOT deleted`)

	if filter.Completed != nil {
		q.sql.WriteString(` AND completed = `)
		q.arg(*filter.Completed)
	}
	if filter.Status != nil {
		q.sql.WriteString(` AND status = `)
		q.arg(string(*filter.Status))
	}
	if filter.TitleContains != "" {
		q.sql.WriteString(` AND title ILIKE '%' || `)
		q.arg(escapeLike(filter.TitleContains))
		q.sql.WriteString(` || '%'`)
	}

	q.sql.WriteString(` ORDER BY priority ASC, created_at ASC`)
	if filter.Limit > 0 {
		q.sql.WriteString(` LIMIT `)
		q.arg(filter.Limit)
	}
	if filter.Offset > 0 {
		q.sql.WriteString(` OFFSET `)
		q.arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, q.sql.String(), q.args...)
	if err != nil {
		logger.Error("Repository: Не удалось получить задачи", err, zap.Duration("ms", time.Since(start)))
		return nil, mapError(err, "получение задач")
	}

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}

	warnIfSlow(start, time.Millisecond*50+time.Millisecond*10*time.Duration(filter.Limit))
	return tasks, nil
}

func (s *Storage) ListHistory(ctx context.Context, owner string, taskID uuid.UUID, filter task.HistoryFilter) ([]*task.StatusHistoryEvent, error) {
	start := time.Now()

	q := newQuery(`SELECT id, task_id, owner_id, old_status, new_status, recorded_at
			FROM task_status_history WHERE task_id = `)
	q.arg(taskID)
	q.sql.WriteString(` AND owner_id = `)
	q.arg(owner)

	if filter.OldStatus != nil {
		q.sql.WriteString(` AND old_status = `)
		q.arg(string(*filter.OldStatus))
	}
	if filter.NewStatus != nil {
		q.sql.WriteString(` AND new_status = `)
		q.arg(string(*filter.NewStatus))
	}
	if filter.From != nil {
		q.sql.WriteString(` AND recorded_at >= `)
		q.arg(*filter.From)
	}
	if filter.To != nil {
		q.sql.WriteString(` AND recorded_at <= `)
		q.arg(*filter.To)
	}
	q.sql.WriteString(` ORDER BY recorded_at ASC, id ASC`)

	rows, err := s.pool.Query(ctx, q.sql.String(), q.args...)
	if err != nil {
		logger.Error("Repository: Не удалось получить историю", err, zap.Duration("ms", time.Since(start)))
		return nil, mapError(err, "получение истории")
	}
	defer rows.Close()

	events := []*task.StatusHistoryEvent{}
	for rows.Next() {
		e := &task.StatusHistoryEvent{}
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Owner, &e.OldStatus, &e.NewStatus, &e.RecordedAt); err != nil {
			logger.Error("Repository: Ошибка сканирования события", err)
			return nil, fmt.Errorf("сканирование события: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		logger.Error("Repository: Ошибка итерации по строкам", err)
		return nil, mapError(err, "итерация по строкам")
	}

	warnIfSlow(start, time.Millisecond*100)
	return events, nil
}

func (s *Storage) Stats(ctx context.Context, owner string) (task.Stats, error) {
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE completed)
			FROM tasks WHERE owner_id = $1 AND NOT deleted`

	stats := task.Stats{}
	if err := s.pool.QueryRow(ctx, query, owner).Scan(&stats.Total, &stats.Completed); err != nil {
		logger.Error("Repository: Не удалось посчитать задачи", err)
		return task.Stats{}, mapError(err, "подсчёт задач")
	}
	stats.Pending = stats.Total - stats.Completed
	return stats, nil
}

func (s *Storage) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT owner_id FROM tasks WHERE NOT deleted ORDER BY owner_id`)
	if err != nil {
		logger.Error("Repository: Не удалось получить владельцев", err)
		return nil, mapError(err, "получение владельцев")
	}

	owners, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError(err, "получение владельцев")
	}
	return owners, nil
}

// InOwnerTx берёт сессионную advisory-блокировку владельца до BEGIN, поэтому снимок
// SERIALIZABLE-транзакции всегда видит коммит предыдущего держателя.
func (s *Storage) InOwnerTx(ctx context.Context, owner string, fn func(ctx context.Context, tx service.TaskTx) error) error {
	start := time.Now()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		logger.Error("Repository: Не удалось получить соединение", err)
		return fmt.Errorf("получение соединения: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	_, err = conn.Exec(lockCtx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, owner)
	timedOut := errors.Is(lockCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		// соединение с прерванным запросом не возвращаем в пул
		conn.Conn().Close(context.Background())
		conn.Release()
		if timedOut {
			logger.Warn("Repository: Не дождались блокировки владельца",
				zap.String("owner", owner),
				zap.Duration("ms", time.Since(start)))
			return repo.ErrLockTimeout
		}
		return mapError(err, "блокировка владельца")
	}
	defer s.unlock(conn, owner)

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		logger.Error("Repository: Не удалось начать транзакцию", err)
		return mapError(err, "начало транзакции")
	}

	timeoutMs := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10)
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeoutMs); err != nil {
		tx.Rollback(ctx)
		return mapError(err, "настройка транзакции")
	}

	if err := fn(ctx, &taskTx{tx: tx, owner: owner}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logger.Warn("Repository: Ошибка отката транзакции", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		logger.Warn("Repository: Транзакция не зафиксирована", zap.Error(err), zap.String("owner", owner))
		return mapError(err, "фиксация транзакции")
	}

	warnIfSlow(start, time.Millisecond*100)
	return nil
}

func (s *Storage) unlock(conn *pgxpool.Conn, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, owner); err != nil {
		// закрытие сессии снимает блокировку
		logger.Warn("Repository: Не удалось снять блокировку владельца", zap.Error(err), zap.String("owner", owner))
		conn.Conn().Close(ctx)
	}
	conn.Release()
}

type taskTx struct {
	tx    pgx.Tx
	owner string
}

func (t *taskTx) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND owner_id = $2 FOR UPDATE`

	found, err := scanTask(t.tx.QueryRow(ctx, query, id, t.owner))
	if err != nil {
		return nil, mapError(err, "получение задачи")
	}
	return found, nil
}

func (t *taskTx) LockActive(ctx context.Context) ([]*task.Task, error) {
	start := time.Now()

	query := `SELECT ` + taskColumns + ` FROM tasks
			WHERE owner_id = $1 AND NOT deleted
			ORDER BY priority ASC, created_at ASC
			FOR UPDATE`

	rows, err := t.tx.Query(ctx, query, t.owner)
	if err != nil {
		logger.Error("Repository: Не удалось заблокировать задачи владельца", err)
		return nil, mapError(err, "блокировка активных задач")
	}

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}

	warnIfSlow(start, time.Millisecond*100)
	return tasks, nil
}

func (t *taskTx) Insert(ctx context.Context, toCreate *task.Task) error {
	query := `INSERT INTO tasks (` + taskColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := t.tx.Exec(ctx, query,
		toCreate.ID,
		t.owner,
		toCreate.Title,
		toCreate.Description,
		toCreate.Priority,
		string(toCreate.Status),
		toCreate.Completed,
		toCreate.Deleted,
		toCreate.CreatedAt,
		toCreate.UpdatedAt,
	)
	if err != nil {
		logger.Error("Repository: Не удалось добавить задачу", err)
		return mapError(err, "добавление задачи")
	}
	return nil
}

func (t *taskTx) Save(ctx context.Context, toUpdate *task.Task) error {
	query := `UPDATE tasks
			SET title = $1,
				description = $2,
				priority = $3,
				status = $4,
				completed = $5,
				deleted = $6,
				updated_at = $7
			WHERE id = $8 AND owner_id = $9`

	tag, err := t.tx.Exec(ctx, query,
		toUpdate.Title,
		toUpdate.Description,
		toUpdate.Priority,
		string(toUpdate.Status),
		toUpdate.Completed,
		toUpdate.Deleted,
		toUpdate.UpdatedAt,
		toUpdate.ID,
		t.owner,
	)
	if err != nil {
		logger.Error("Repository: Не удалось обновить задачу", err)
		return mapError(err, "обновление задачи")
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (t *taskTx) SaveBatch(ctx context.Context, tasks []*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	start := time.Now()

	ids := make([]string, len(tasks))
	priorities := make([]int32, len(tasks))
	updated := make([]time.Time, len(tasks))
	for i, item := range tasks {
		if item.Priority < 1 || item.Priority > task.MaxPriority {
			return fmt.Errorf("приоритет %d вне допустимого диапазона", item.Priority)
		}
		ids[i] = item.ID.String()
		priorities[i] = int32(item.Priority)
		updated[i] = item.UpdatedAt
	}

	query := `UPDATE tasks AS t
			SET priority = v.priority,
				updated_at = v.updated_at
			FROM (
				SELECT unnest($1::uuid[]) AS id,
					unnest($2::int[]) AS priority,
					unnest($3::timestamptz[]) AS updated_at
			) AS v
			WHERE t.id = v.id AND t.owner_id = $4`

	tag, err := t.tx.Exec(ctx, query, ids, priorities, updated, t.owner)
	if err != nil {
		logger.Error("Repository: Не удалось сдвинуть приоритеты", err, zap.Int("count", len(tasks)))
		return mapError(err, "пакетное обновление приоритетов")
	}
	if tag.RowsAffected() != int64(len(tasks)) {
		return repo.ErrNotFound
	}

	warnIfSlow(start, time.Millisecond*50+time.Millisecond*time.Duration(len(tasks)))
	return nil
}

func (t *taskTx) AppendHistory(ctx context.Context, event *task.StatusHistoryEvent) error {
	query := `INSERT INTO task_status_history (id, task_id, owner_id, old_status, new_status, recorded_at)
			SELECT $1, $2, $3, $4, $5,
				GREATEST(clock_timestamp(), COALESCE(MAX(recorded_at), '-infinity'::timestamptz))
			FROM task_status_history WHERE task_id = $2
			RETURNING recorded_at`

	err := t.tx.QueryRow(ctx, query,
		event.ID,
		event.TaskID,
		t.owner,
		string(event.OldStatus),
		string(event.NewStatus),
	).Scan(&event.RecordedAt)
	if err != nil {
		logger.Error("Repository: Не удалось записать историю", err)
		return mapError(err, "запись истории")
	}
	return nil
}

func scanTask(row pgx.Row) (*task.Task, error) {
	t := &task.Task{}
	err := row.Scan(
		&t.ID,
		&t.Owner,
		&t.Title,
		&t.Description,
		&t.Priority,
		&t.Status,
		&t.Completed,
		&t.Deleted,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func collectTasks(rows pgx.Rows) ([]*task.Task, error) {
	defer rows.Close()

	tasks := []*task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			logger.Error("Repository: Ошибка сканирования задачи", err)
			return nil, fmt.Errorf("сканирование задачи: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		logger.Error("Repository: Ошибка итерации по строкам", err)
		return nil, mapError(err, "итерация по строкам")
	}
	return tasks, nil
}

// mapError переводит ошибки pgx в ошибки хранилища
func mapError(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return fmt.Errorf("%s: %w", op, repo.ErrLockTimeout)
		case "40001", "40P01", "23P01", "23505":
			return fmt.Errorf("%s: %s: %w", op, pgErr.Message, repo.ErrConflict)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func warnIfSlow(start time.Time, threshold time.Duration) {
	if time.Since(start) > threshold {
		logger.Warn("Repository: Медленный запрос", zap.Duration("ms", time.Since(start)))
	}
}

type query struct {
	sql  strings.Builder
	args []any
}

func newQuery(base string) *query {
	q := &query{}
	q.sql.WriteString(base)
	return q
}

func (q *query) arg(v any) {
	q.args = append(q.args, v)
	q.sql.WriteString("$" + strconv.Itoa(len(q.args)))
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
