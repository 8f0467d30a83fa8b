package service_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"taskTracker/internal/models/task"
	"taskTracker/internal/repository/task/inmemory"
	"taskTracker/internal/service"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "alice"

func newService() (*service.TaskService, *inmemory.TaskStorage) {
	storage := inmemory.NewTaskStorage()
	return service.NewTaskService(storage), storage
}

func mustCreate(t *testing.T, svc *service.TaskService, title string, priority int) *task.Task {
	t.Helper()
	created, err := svc.CreateTask(context.Background(), owner, title, "", task.WithPriority(priority))
	require.NoError(t, err)
	return created
}

func priorities(t *testing.T, svc *service.TaskService, who string) map[uuid.UUID]int {
	t.Helper()
	tasks, err := svc.ListTasks(context.Background(), who, task.Filter{})
	require.NoError(t, err)

	result := make(map[uuid.UUID]int, len(tasks))
	for _, tt := range tasks {
		result[tt.ID] = tt.Priority
	}
	return result
}

func assertUniquePriorities(t *testing.T, svc *service.TaskService, who string) {
	t.Helper()
	tasks, err := svc.ListTasks(context.Background(), who, task.Filter{})
	require.NoError(t, err)

	seen := map[int]uuid.UUID{}
	for _, tt := range tasks {
		other, dup := seen[tt.Priority]
		require.False(t, dup, "priority %d used by %s and %s", tt.Priority, other, tt.ID)
		seen[tt.Priority] = tt.ID
	}
}

func businessCode(t *testing.T, err error) string {
	t.Helper()
	var busErr *service.BusinessError
	require.True(t, errors.As(err, &busErr), "expected BusinessError, got %v", err)
	return busErr.Code
}

func TestTaskService_Create_CollisionShiftsExisting(t *testing.T) {
	svc, _ := newService()

	a := mustCreate(t, svc, "first task title", 1)
	b := mustCreate(t, svc, "second task title", 1)

	assert.Equal(t, map[uuid.UUID]int{b.ID: 1, a.ID: 2}, priorities(t, svc, owner))
}

func TestTaskService_Update_PriorityMoveCascades(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	t1 := mustCreate(t, svc, "task number one", 1)
	t2 := mustCreate(t, svc, "task number two", 2)
	t3 := mustCreate(t, svc, "task number three", 3)

	updated, err := svc.UpdateTask(ctx, owner, t1.ID, task.WithPriority(3))
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Priority)

	assert.Equal(t, map[uuid.UUID]int{t1.ID: 3, t2.ID: 2, t3.ID: 4}, priorities(t, svc, owner))
}

func TestTaskService_Update_StatusHistory(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created := mustCreate(t, svc, "status history task", 1)
	assert.Equal(t, task.StatusPending, created.Status)

	_, err := svc.UpdateTask(ctx, owner, created.ID, task.WithStatus(task.StatusInProgress))
	require.NoError(t, err)

	_, err = svc.UpdateTask(ctx, owner, created.ID, task.WithStatus(task.StatusInProgress))
	require.NoError(t, err)

	events, err := svc.ListHistory(ctx, owner, created.ID, task.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, task.StatusPending, events[0].OldStatus)
	assert.Equal(t, task.StatusInProgress, events[0].NewStatus)
	assert.Equal(t, owner, events[0].Owner)
	assert.Equal(t, created.ID, events[0].TaskID)
}

func TestTaskService_Delete_CompletedTask(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, owner, "complete then delete", "", task.WithStatus(task.StatusCompleted))
	require.NoError(t, err)
	assert.True(t, created.Completed)

	require.NoError(t, svc.DeleteTask(ctx, owner, created.ID))

	events, err := svc.ListHistory(ctx, owner, created.ID, task.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, task.StatusCompleted, events[0].OldStatus)
	assert.Equal(t, task.StatusCancelled, events[0].NewStatus)

	found, err := svc.GetTask(ctx, owner, created.ID)
	require.NoError(t, err)
	assert.True(t, found.Deleted)
	assert.Equal(t, task.StatusCancelled, found.Status)
	assert.False(t, found.Completed)

	assert.Empty(t, priorities(t, svc, owner))
}

func TestTaskService_Delete_Idempotent(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created := mustCreate(t, svc, "delete me twice", 1)

	require.NoError(t, svc.DeleteTask(ctx, owner, created.ID))
	require.NoError(t, svc.DeleteTask(ctx, owner, created.ID))

	events, err := svc.ListHistory(ctx, owner, created.ID, task.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTaskService_Delete_CancelledTaskRecordsNothing(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, owner, "already cancelled", "", task.WithStatus(task.StatusCancelled))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTask(ctx, owner, created.ID))

	events, err := svc.ListHistory(ctx, owner, created.ID, task.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTaskService_Delete_FreesPriority(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	old := mustCreate(t, svc, "will be deleted", 1)
	require.NoError(t, svc.DeleteTask(ctx, owner, old.ID))

	fresh := mustCreate(t, svc, "takes the same slot", 1)

	assert.Equal(t, map[uuid.UUID]int{fresh.ID: 1}, priorities(t, svc, owner))

	frozen, err := svc.GetTask(ctx, owner, old.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, frozen.Priority)
}

func TestTaskService_Create_Validation(t *testing.T) {
	svc, storage := newService()
	ctx := context.Background()

	tests := []struct {
		name    string
		title   string
		options []task.TaskOption
	}{
		{name: "short title", title: "short"},
		{name: "whitespace padded", title: "   tiny   "},
		{name: "unknown status", title: "valid title here", options: []task.TaskOption{task.WithStatus("DONE")}},
		{name: "negative priority", title: "valid title here", options: []task.TaskOption{task.WithPriority(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateTask(ctx, owner, tt.title, "", tt.options...)
			require.Error(t, err)
			assert.Equal(t, service.CodeValidation, businessCode(t, err))
		})
	}

	stats, err := storage.Stats(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestTaskService_Create_Defaults(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	first, err := svc.CreateTask(ctx, owner, "  lowercase title  ", "desc")
	require.NoError(t, err)
	assert.Equal(t, "LOWERCASE TITLE", first.Title)
	assert.Equal(t, task.StatusPending, first.Status)
	assert.False(t, first.Completed)
	assert.Equal(t, 1, first.Priority)

	mustCreate(t, svc, "explicit priority", 7)

	appended, err := svc.CreateTask(ctx, owner, "goes to the end", "")
	require.NoError(t, err)
	assert.Equal(t, 8, appended.Priority)

	history, err := svc.ListHistory(ctx, owner, first.ID, task.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestTaskService_OwnerIsolation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	mine := mustCreate(t, svc, "alice private task", 1)
	theirs, err := svc.CreateTask(ctx, "bob", "bob private task", "", task.WithPriority(1))
	require.NoError(t, err)

	_, err = svc.GetTask(ctx, "bob", mine.ID)
	assert.Equal(t, service.CodeNotFound, businessCode(t, err))

	_, err = svc.UpdateTask(ctx, "bob", mine.ID, task.WithPriority(5))
	assert.Equal(t, service.CodeNotFound, businessCode(t, err))

	err = svc.DeleteTask(ctx, "bob", mine.ID)
	assert.Equal(t, service.CodeNotFound, businessCode(t, err))

	_, err = svc.ListHistory(ctx, "bob", mine.ID, task.HistoryFilter{})
	assert.Equal(t, service.CodeNotFound, businessCode(t, err))

	// каскад одного владельца не трогает другого
	mustCreate(t, svc, "alice second task", 1)
	assert.Equal(t, map[uuid.UUID]int{theirs.ID: 1}, priorities(t, svc, "bob"))
}

func TestTaskService_Update_DeletedTask(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created := mustCreate(t, svc, "deleted before update", 1)
	require.NoError(t, svc.DeleteTask(ctx, owner, created.ID))

	_, err := svc.UpdateTask(ctx, owner, created.ID, task.WithStatus(task.StatusInProgress))
	assert.Equal(t, service.CodeTaskDeleted, businessCode(t, err))
}

func TestTaskService_Update_Completion(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created := mustCreate(t, svc, "complete via flag", 1)

	updated, err := svc.UpdateTask(ctx, owner, created.ID,
		task.WithCompleted(true), task.WithStatus(task.StatusInProgress))
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, updated.Status)
	assert.True(t, updated.Completed)

	reopened, err := svc.UpdateTask(ctx, owner, created.ID, task.WithCompleted(false))
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, reopened.Status)

	events, err := svc.ListHistory(ctx, owner, created.ID, task.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, task.StatusCompleted, events[0].NewStatus)
	assert.Equal(t, task.StatusPending, events[1].NewStatus)
	assert.False(t, events[1].RecordedAt.Before(events[0].RecordedAt))
}

func TestTaskService_Update_CompletedFlagWinsOnCompletedTask(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, owner, "already done task", "", task.WithCompleted(true))
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, created.Status)

	updated, err := svc.UpdateTask(ctx, owner, created.ID,
		task.WithCompleted(true), task.WithStatus(task.StatusPending))
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, updated.Status)
	assert.True(t, updated.Completed)

	events, err := svc.ListHistory(ctx, owner, created.ID, task.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)

	// без флага статус по-прежнему возвращает задачу в работу
	reopened, err := svc.UpdateTask(ctx, owner, created.ID, task.WithStatus(task.StatusPending))
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, reopened.Status)
	assert.False(t, reopened.Completed)

	events, err = svc.ListHistory(ctx, owner, created.ID, task.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, task.StatusCompleted, events[0].OldStatus)
	assert.Equal(t, task.StatusPending, events[0].NewStatus)
}

func TestTaskService_PriorityUpperBound(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, owner, "too high priority", "", task.WithPriority(task.MaxPriority+1))
	assert.Equal(t, service.CodeValidation, businessCode(t, err))

	last := mustCreate(t, svc, "last possible priority", task.MaxPriority)

	// добавление в конец не переполняется
	_, err = svc.CreateTask(ctx, owner, "appended after limit", "")
	assert.Equal(t, service.CodeValidation, businessCode(t, err))

	// каскад упирается в границу
	_, err = svc.CreateTask(ctx, owner, "collides at the limit", "", task.WithPriority(task.MaxPriority))
	assert.Equal(t, service.CodeValidation, businessCode(t, err))

	other := mustCreate(t, svc, "regular priority task", 1)
	_, err = svc.UpdateTask(ctx, owner, other.ID, task.WithPriority(task.MaxPriority+1))
	assert.Equal(t, service.CodeValidation, businessCode(t, err))

	got := priorities(t, svc, owner)
	assert.Equal(t, map[uuid.UUID]int{last.ID: task.MaxPriority, other.ID: 1}, got)
}

func TestTaskService_Update_TitleValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created := mustCreate(t, svc, "valid long title", 1)

	_, err := svc.UpdateTask(ctx, owner, created.ID, task.WithTitle("tiny"))
	assert.Equal(t, service.CodeValidation, businessCode(t, err))

	_, err = svc.UpdateTask(ctx, owner, created.ID, task.WithPriority(0))
	assert.Equal(t, service.CodeValidation, businessCode(t, err))

	updated, err := svc.UpdateTask(ctx, owner, created.ID, task.WithTitle("renamed long title"))
	require.NoError(t, err)
	assert.Equal(t, "RENAMED LONG TITLE", updated.Title)
}

func TestTaskService_ConcurrentCreatesSamePriority(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := svc.CreateTask(ctx, owner, "concurrent create", "", task.WithPriority(5))
			errs[i] = err
			if err == nil {
				ids[i] = created.ID
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got := priorities(t, svc, owner)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []int{5, 6}, []int{got[ids[0]], got[ids[1]]})
}

func TestTaskService_ConcurrentMixedOperations(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 25; i++ {
				created, err := svc.CreateTask(ctx, owner, "parallel worker task", "", task.WithPriority(rng.Intn(10)+1))
				if err != nil {
					continue
				}
				if rng.Intn(3) == 0 {
					svc.UpdateTask(ctx, owner, created.ID, task.WithPriority(rng.Intn(10)+1))
				}
				if rng.Intn(5) == 0 {
					svc.DeleteTask(ctx, owner, created.ID)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	assertUniquePriorities(t, svc, owner)
}

// случайные операции: после каждой приоритеты уникальны, история полна
func TestTaskService_RandomOperationsKeepInvariants(t *testing.T) {
	svc, storage := newService()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	statuses := task.Statuses
	ids := []uuid.UUID{}
	expectedEvents := map[uuid.UUID]int{}

	for step := 0; step < 300; step++ {
		switch op := rng.Intn(4); {
		case op == 0 || len(ids) == 0:
			created, err := svc.CreateTask(ctx, owner, "random generated task", "", task.WithPriority(rng.Intn(12)))
			require.NoError(t, err)
			ids = append(ids, created.ID)
		case op == 1 || op == 2:
			id := ids[rng.Intn(len(ids))]
			before, err := storage.GetByID(ctx, owner, id)
			require.NoError(t, err)

			updated, err := svc.UpdateTask(ctx, owner, id,
				task.WithPriority(rng.Intn(12)+1),
				task.WithStatus(statuses[rng.Intn(len(statuses))]))
			if before.Deleted {
				assert.Equal(t, service.CodeTaskDeleted, businessCode(t, err))
				continue
			}
			require.NoError(t, err)
			if updated.Status != before.Status {
				expectedEvents[id]++
			}
		default:
			id := ids[rng.Intn(len(ids))]
			before, err := storage.GetByID(ctx, owner, id)
			require.NoError(t, err)

			require.NoError(t, svc.DeleteTask(ctx, owner, id))
			if !before.Deleted && before.Status != task.StatusCancelled {
				expectedEvents[id]++
			}
		}

		assertUniquePriorities(t, svc, owner)
	}

	for _, id := range ids {
		events, err := svc.ListHistory(ctx, owner, id, task.HistoryFilter{})
		require.NoError(t, err)
		assert.Len(t, events, expectedEvents[id], "task %s", id)
		for _, e := range events {
			assert.NotEqual(t, e.OldStatus, e.NewStatus)
		}
	}
}

func TestTaskService_ListsAndStats(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	mustCreate(t, svc, "pending task one", 1)
	done, err := svc.CreateTask(ctx, owner, "completed task two", "", task.WithPriority(2), task.WithCompleted(true))
	require.NoError(t, err)
	gone := mustCreate(t, svc, "deleted task three", 3)
	require.NoError(t, svc.DeleteTask(ctx, owner, gone.ID))

	completed, err := svc.ListCompleted(ctx, owner, 1, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)

	pending, err := svc.ListPending(ctx, owner, 1, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	stats, err := svc.Stats(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, task.Stats{Total: 2, Completed: 1, Pending: 1}, stats)

	page, err := svc.ListTasks(ctx, owner, task.Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 2, page[0].Priority)

	found, err := svc.ListTasks(ctx, owner, task.Filter{TitleContains: "Pending"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestTaskService_ListHistory_Filters(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created := mustCreate(t, svc, "history filter task", 1)
	_, err := svc.UpdateTask(ctx, owner, created.ID, task.WithStatus(task.StatusInProgress))
	require.NoError(t, err)
	_, err = svc.UpdateTask(ctx, owner, created.ID, task.WithStatus(task.StatusCompleted))
	require.NoError(t, err)

	inProgress := task.StatusInProgress
	events, err := svc.ListHistory(ctx, owner, created.ID, task.HistoryFilter{OldStatus: &inProgress})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, task.StatusCompleted, events[0].NewStatus)

	future := time.Now().Add(time.Hour)
	events, err = svc.ListHistory(ctx, owner, created.ID, task.HistoryFilter{From: &future})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTaskService_CompactPriorities(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	a := mustCreate(t, svc, "compact task one", 3)
	b := mustCreate(t, svc, "compact task two", 7)
	c := mustCreate(t, svc, "compact task three", 20)

	changed, err := svc.CompactPriorities(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, changed)
	assert.Equal(t, map[uuid.UUID]int{a.ID: 1, b.ID: 2, c.ID: 3}, priorities(t, svc, owner))

	changed, err = svc.CompactPriorities(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	events, err := svc.ListHistory(ctx, owner, a.ID, task.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

// faultyRepo подменяет запись внутри транзакции, чтобы проверить откат
type faultyRepo struct {
	*inmemory.TaskStorage
	failHistory bool
	failBatch   bool
}

func (f *faultyRepo) InOwnerTx(ctx context.Context, owner string, fn func(ctx context.Context, tx service.TaskTx) error) error {
	return f.TaskStorage.InOwnerTx(ctx, owner, func(ctx context.Context, tx service.TaskTx) error {
		return fn(ctx, &faultyTx{TaskTx: tx, repo: f})
	})
}

type faultyTx struct {
	service.TaskTx
	repo *faultyRepo
}

func (t *faultyTx) AppendHistory(ctx context.Context, event *task.StatusHistoryEvent) error {
	if t.repo.failHistory {
		return errors.New("disk full")
	}
	return t.TaskTx.AppendHistory(ctx, event)
}

func (t *faultyTx) SaveBatch(ctx context.Context, tasks []*task.Task) error {
	if t.repo.failBatch {
		return errors.New("connection reset")
	}
	return t.TaskTx.SaveBatch(ctx, tasks)
}

func TestTaskService_RollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	repo := &faultyRepo{TaskStorage: inmemory.NewTaskStorage()}
	svc := service.NewTaskService(repo)

	first := mustCreate(t, svc, "survives rollback", 1)
	second := mustCreate(t, svc, "also survives it", 2)

	repo.failBatch = true
	_, err := svc.CreateTask(ctx, owner, "cascade will fail", "", task.WithPriority(1))
	assert.Equal(t, service.CodeUnavailable, businessCode(t, err))

	_, err = svc.UpdateTask(ctx, owner, second.ID, task.WithPriority(1))
	assert.Equal(t, service.CodeUnavailable, businessCode(t, err))
	repo.failBatch = false

	assert.Equal(t, map[uuid.UUID]int{first.ID: 1, second.ID: 2}, priorities(t, svc, owner))

	repo.failHistory = true
	_, err = svc.UpdateTask(ctx, owner, first.ID, task.WithStatus(task.StatusInProgress), task.WithPriority(2))
	assert.Equal(t, service.CodeUnavailable, businessCode(t, err))

	err = svc.DeleteTask(ctx, owner, first.ID)
	assert.Equal(t, service.CodeUnavailable, businessCode(t, err))
	repo.failHistory = false

	unchanged, err := svc.GetTask(ctx, owner, first.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, unchanged.Status)
	assert.Equal(t, 1, unchanged.Priority)
	assert.False(t, unchanged.Deleted)
	assert.Equal(t, map[uuid.UUID]int{first.ID: 1, second.ID: 2}, priorities(t, svc, owner))

	events, err := svc.ListHistory(ctx, owner, first.ID, task.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTaskService_LockTimeoutIsRetryable(t *testing.T) {
	storage := inmemory.NewTaskStorage(inmemory.WithLockTimeout(20 * time.Millisecond))
	svc := service.NewTaskService(storage)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- storage.InOwnerTx(ctx, owner, func(ctx context.Context, tx service.TaskTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := svc.CreateTask(ctx, owner, "blocked by holder", "")
	assert.Equal(t, service.CodeConflict, businessCode(t, err))
	assert.True(t, service.IsRetryable(err))

	// другой владелец не ждёт
	_, err = svc.CreateTask(ctx, "bob", "not blocked at all", "")
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)

	_, err = svc.CreateTask(ctx, owner, "retry succeeds now", "")
	assert.NoError(t, err)
}
