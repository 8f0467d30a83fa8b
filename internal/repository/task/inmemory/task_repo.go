package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"taskTracker/internal/logger"
	"taskTracker/internal/models/task"
	repo "taskTracker/internal/repository"
	"taskTracker/internal/service"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultLockTimeout = 5 * time.Second

type TaskStorage struct {
	storage map[uuid.UUID]*task.Task
	history map[uuid.UUID][]*task.StatusHistoryEvent
	mtx     *sync.RWMutex

	locksMtx    sync.Mutex
	ownerLocks  map[string]chan struct{}
	lockTimeout time.Duration
}

type Option func(*TaskStorage)

func WithLockTimeout(timeout time.Duration) Option {
	return func(s *TaskStorage) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

func NewTaskStorage(options ...Option) *TaskStorage {
	s := &TaskStorage{
		storage:     make(map[uuid.UUID]*task.Task),
		history:     make(map[uuid.UUID][]*task.StatusHistoryEvent),
		mtx:         &sync.RWMutex{},
		ownerLocks:  make(map[string]chan struct{}),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

var _ service.TaskRepository = (*TaskStorage)(nil)

func (s *TaskStorage) HealthCheck(ctx context.Context) error {
	logger.Info("Repository: Соединение стабильно")
	return nil
}

func (s *TaskStorage) GetByID(ctx context.Context, owner string, id uuid.UUID) (*task.Task, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	t, ok := s.storage[id]
	if !ok || t.Owner != owner {
		return nil, repo.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *TaskStorage) ListActive(ctx context.Context, owner string, filter task.Filter) ([]*task.Task, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	tasks := []*task.Task{}
	for _, t := range s.storage {
		if t.Owner != owner || !filter.Match(t) {
			continue
		}
		tasks = append(tasks, t.Clone())
	}
	sortByPriority(tasks)

	if filter.Offset > 0 {
		if filter.Offset >= len(tasks) {
			return []*task.Task{}, nil
		}
		tasks = tasks[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(tasks) {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

func (s *TaskStorage) ListHistory(ctx context.Context, owner string, taskID uuid.UUID, filter task.HistoryFilter) ([]*task.StatusHistoryEvent, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	events := []*task.StatusHistoryEvent{}
	for _, e := range s.history[taskID] {
		if e.Owner != owner || !filter.Match(e) {
			continue
		}
		c := *e
		events = append(events, &c)
	}
	return events, nil
}

func (s *TaskStorage) Stats(ctx context.Context, owner string) (task.Stats, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	stats := task.Stats{}
	for _, t := range s.storage {
		if t.Owner != owner || t.Deleted {
			continue
		}
		stats.Total++
		if t.Completed {
			stats.Completed++
		}
	}
	stats.Pending = stats.Total - stats.Completed
	return stats, nil
}

func (s *TaskStorage) ListOwners(ctx context.Context) ([]string, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	seen := make(map[string]struct{})
	owners := []string{}
	for _, t := range s.storage {
		if t.Deleted {
			continue
		}
		if _, ok := seen[t.Owner]; ok {
			continue
		}
		seen[t.Owner] = struct{}{}
		owners = append(owners, t.Owner)
	}
	sort.Strings(owners)
	return owners, nil
}

// InOwnerTx копит записи в транзакции и применяет их разом при успехе fn
func (s *TaskStorage) InOwnerTx(ctx context.Context, owner string, fn func(ctx context.Context, tx service.TaskTx) error) error {
	start := time.Now()

	release, err := s.lockOwner(ctx, owner)
	if err != nil {
		logger.Warn("Repository: Не дождались блокировки владельца",
			zap.String("owner", owner),
			zap.Duration("ms", time.Since(start)))
		return err
	}
	defer release()

	tx := &taskTx{
		store:  s,
		owner:  owner,
		staged: make(map[uuid.UUID]*task.Task),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := s.commit(tx); err != nil {
		logger.Warn("Repository: Откат транзакции при фиксации", zap.Error(err), zap.String("owner", owner))
		return err
	}

	if time.Since(start) > time.Millisecond*100 {
		logger.Warn("Repository: Медленная транзакция", zap.Duration("ms", time.Since(start)))
	}
	return nil
}

func (s *TaskStorage) lockOwner(ctx context.Context, owner string) (func(), error) {
	s.locksMtx.Lock()
	sem, ok := s.ownerLocks[owner]
	if !ok {
		sem = make(chan struct{}, 1)
		s.ownerLocks[owner] = sem
	}
	s.locksMtx.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timer.C:
		return nil, repo.ErrLockTimeout
	case <-ctx.Done():
		return nil, fmt.Errorf("ожидание блокировки владельца: %w", ctx.Err())
	}
}

func (s *TaskStorage) commit(tx *taskTx) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	// итоговое состояние активных задач владельца не должно иметь дублей приоритета
	seen := make(map[int]uuid.UUID)
	for id, t := range s.storage {
		if t.Owner != tx.owner {
			continue
		}
		if staged, ok := tx.staged[id]; ok {
			t = staged
		}
		if t.Deleted {
			continue
		}
		if other, dup := seen[t.Priority]; dup && other != id {
			return repo.ErrConflict
		}
		seen[t.Priority] = id
	}
	for id, t := range tx.staged {
		if _, exists := s.storage[id]; exists || t.Deleted {
			continue
		}
		if other, dup := seen[t.Priority]; dup && other != id {
			return repo.ErrConflict
		}
		seen[t.Priority] = id
	}

	for id, t := range tx.staged {
		s.storage[id] = t
	}

	for _, e := range tx.events {
		events := s.history[e.TaskID]
		if n := len(events); n > 0 && e.RecordedAt.Before(events[n-1].RecordedAt) {
			e.RecordedAt = events[n-1].RecordedAt
		}
		s.history[e.TaskID] = append(events, e)
	}
	return nil
}

type taskTx struct {
	store  *TaskStorage
	owner  string
	staged map[uuid.UUID]*task.Task
	events []*task.StatusHistoryEvent
}

func (tx *taskTx) lookup(id uuid.UUID) (*task.Task, bool) {
	if t, ok := tx.staged[id]; ok {
		return t, true
	}
	tx.store.mtx.RLock()
	defer tx.store.mtx.RUnlock()
	t, ok := tx.store.storage[id]
	return t, ok
}

func (tx *taskTx) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	t, ok := tx.lookup(id)
	if !ok || t.Owner != tx.owner {
		return nil, repo.ErrNotFound
	}
	return t.Clone(), nil
}

func (tx *taskTx) LockActive(ctx context.Context) ([]*task.Task, error) {
	tx.store.mtx.RLock()
	merged := make(map[uuid.UUID]*task.Task)
	for id, t := range tx.store.storage {
		if t.Owner == tx.owner {
			merged[id] = t
		}
	}
	tx.store.mtx.RUnlock()

	for id, t := range tx.staged {
		merged[id] = t
	}

	active := []*task.Task{}
	for _, t := range merged {
		if !t.Deleted {
			active = append(active, t.Clone())
		}
	}
	sortByPriority(active)
	return active, nil
}

func (tx *taskTx) Insert(ctx context.Context, t *task.Task) error {
	if t.Owner != tx.owner {
		return repo.ErrNotFound
	}
	if _, exists := tx.lookup(t.ID); exists {
		return repo.ErrConflict
	}
	tx.staged[t.ID] = t.Clone()
	return nil
}

func (tx *taskTx) Save(ctx context.Context, t *task.Task) error {
	existing, ok := tx.lookup(t.ID)
	if !ok || existing.Owner != tx.owner || t.Owner != tx.owner {
		return repo.ErrNotFound
	}
	tx.staged[t.ID] = t.Clone()
	return nil
}

// SaveBatch пишет только приоритет и updated_at, как и пакетный UPDATE в postgres
func (tx *taskTx) SaveBatch(ctx context.Context, tasks []*task.Task) error {
	for _, t := range tasks {
		existing, ok := tx.lookup(t.ID)
		if !ok || existing.Owner != tx.owner {
			return repo.ErrNotFound
		}
		shifted := existing.Clone()
		shifted.Priority = t.Priority
		shifted.UpdatedAt = t.UpdatedAt
		tx.staged[t.ID] = shifted
	}
	return nil
}

func (tx *taskTx) AppendHistory(ctx context.Context, event *task.StatusHistoryEvent) error {
	t, ok := tx.lookup(event.TaskID)
	if !ok || t.Owner != tx.owner || event.Owner != tx.owner {
		return repo.ErrNotFound
	}
	c := *event
	tx.events = append(tx.events, &c)
	return nil
}

func sortByPriority(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
