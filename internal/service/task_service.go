package service

import (
	"context"
	"fmt"
	"taskTracker/internal/logger"
	"taskTracker/internal/models/task"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("taskTracker/internal/service")

// здесь происходит проверка ошибок бизнес-логики

type TaskService struct {
	repo       TaskRepository
	reconciler *PriorityReconciler
	recorder   *HistoryRecorder
}

func NewTaskService(repo TaskRepository) *TaskService {
	return &TaskService{
		repo:       repo,
		reconciler: NewPriorityReconciler(),
		recorder:   NewHistoryRecorder(),
	}
}

func (s *TaskService) HealthCheck(ctx context.Context) error {
	if err := s.repo.HealthCheck(ctx); err != nil {
		logger.ErrorCtx(ctx, "Service: Хранилище недоступно", err)
		return fmt.Errorf("проверка здоровья сервиса: %w", err)
	}
	return nil
}

// CreateTask создаёт задачу. Приоритет 0 означает "в конец очереди",
// пустой статус - PENDING. История при создании не пишется.
func (s *TaskService) CreateTask(ctx context.Context, owner, title, description string, options ...task.TaskOption) (*task.Task, error) {
	ctx = withOwner(ctx, owner)
	start := time.Now()
	ctx, span := startSpan(ctx, "TaskService.CreateTask", owner)
	defer span.End()

	now := time.Now().UTC()
	draft := task.Apply(&task.Task{
		ID:          uuid.New(),
		Owner:       owner,
		Title:       title,
		Description: description,
		Status:      task.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, options...)
	draft.Title = task.NormalizeTitle(draft.Title)
	task.SyncCompletion(&task.Task{}, draft, task.CompletedIntent(options...))

	if err := validateTask(draft); err != nil {
		logger.WarnCtx(ctx, "Service: Ошибка валидации при создании", zap.Error(err))
		failSpan(span, err)
		return nil, err
	}
	if draft.Priority < 0 {
		return nil, NewValidationError("priority", "приоритет должен быть положительным")
	}
	if draft.Priority > task.MaxPriority {
		return nil, NewValidationError("priority", fmt.Sprintf("приоритет не может быть больше %d", task.MaxPriority))
	}

	err := s.repo.InOwnerTx(ctx, owner, func(ctx context.Context, tx TaskTx) error {
		active, err := tx.LockActive(ctx)
		if err != nil {
			return err
		}

		if draft.Priority == 0 {
			if draft.Priority, err = s.reconciler.NextPriority(active); err != nil {
				return err
			}
		}

		if err := tx.Insert(ctx, draft); err != nil {
			return err
		}

		_, err = s.reconciler.Reconcile(ctx, tx, active, draft)
		return err
	})
	if err != nil {
		logger.ErrorCtx(ctx, "Service: Не удалось создать задачу", err)
		failSpan(span, err)
		return nil, toBusinessError(err, draft.ID)
	}
	span.SetAttributes(attribute.String("task_id", draft.ID.String()), attribute.Int("priority", draft.Priority))

	logger.InfoCtx(ctx, "Service: Задача создана",
		zap.String("task_id", draft.ID.String()),
		zap.Int("priority", draft.Priority),
		zap.Duration("ms", time.Since(start)))

	return draft, nil
}

func (s *TaskService) GetTask(ctx context.Context, owner string, id uuid.UUID) (*task.Task, error) {
	ctx = withOwner(ctx, owner)
	t, err := s.repo.GetByID(ctx, owner, id)
	if err != nil {
		logger.InfoCtx(ctx, "Service: Задача не найдена", zap.String("target_id", id.String()))
		return nil, toBusinessError(err, id)
	}
	return t, nil
}

// UpdateTask применяет изменения полей. Смена приоритета запускает каскад,
// смена статуса пишет одно событие истории; всё в одной транзакции.
func (s *TaskService) UpdateTask(ctx context.Context, owner string, id uuid.UUID, options ...task.TaskOption) (*task.Task, error) {
	ctx = withOwner(ctx, owner)
	start := time.Now()
	ctx, span := startSpan(ctx, "TaskService.UpdateTask", owner, attribute.String("task_id", id.String()))
	defer span.End()

	var updated *task.Task
	var shifted []*task.Task
	var event *task.StatusHistoryEvent

	err := s.repo.InOwnerTx(ctx, owner, func(ctx context.Context, tx TaskTx) error {
		current, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Deleted {
			return NewTaskDeleted(id)
		}

		updated = task.Apply(current, options...)
		updated.ID, updated.Owner, updated.Deleted, updated.CreatedAt = current.ID, current.Owner, current.Deleted, current.CreatedAt

		if updated.Title != current.Title {
			updated.Title = task.NormalizeTitle(updated.Title)
		}
		task.SyncCompletion(current, updated, task.CompletedIntent(options...))

		if err := validateTask(updated); err != nil {
			return err
		}
		if updated.Priority < 1 {
			return NewValidationError("priority", "приоритет должен быть положительным")
		}
		if updated.Priority > task.MaxPriority {
			return NewValidationError("priority", fmt.Sprintf("приоритет не может быть больше %d", task.MaxPriority))
		}

		updated.UpdatedAt = time.Now().UTC()
		if err := tx.Save(ctx, updated); err != nil {
			return err
		}

		if updated.Priority != current.Priority {
			active, err := tx.LockActive(ctx)
			if err != nil {
				return err
			}
			if shifted, err = s.reconciler.Reconcile(ctx, tx, active, updated); err != nil {
				return err
			}
		}

		event, err = s.recorder.Record(ctx, tx, updated, current.Status, updated.Status, owner)
		return err
	})
	if err != nil {
		logger.WarnCtx(ctx, "Service: Не удалось обновить задачу", zap.Error(err), zap.String("task_id", id.String()))
		failSpan(span, err)
		return nil, toBusinessError(err, id)
	}
	span.SetAttributes(attribute.Int("shifted", len(shifted)), attribute.Bool("status_changed", event != nil))

	logger.InfoCtx(ctx, "Service: Задача обновлена",
		zap.String("task_id", id.String()),
		zap.Int("shifted", len(shifted)),
		zap.Bool("status_changed", event != nil),
		zap.Duration("ms", time.Since(start)))

	return updated, nil
}

// DeleteTask - мягкое удаление с переводом в CANCELLED. Повторное удаление ничего не делает.
func (s *TaskService) DeleteTask(ctx context.Context, owner string, id uuid.UUID) error {
	ctx = withOwner(ctx, owner)
	ctx, span := startSpan(ctx, "TaskService.DeleteTask", owner, attribute.String("task_id", id.String()))
	defer span.End()

	err := s.repo.InOwnerTx(ctx, owner, func(ctx context.Context, tx TaskTx) error {
		current, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Deleted {
			logger.InfoCtx(ctx, "Service: Задача уже удалена", zap.String("task_id", id.String()))
			return nil
		}

		deleted := current.Clone()
		deleted.Deleted = true
		deleted.Status = task.StatusCancelled
		deleted.Completed = false
		deleted.UpdatedAt = time.Now().UTC()

		if err := tx.Save(ctx, deleted); err != nil {
			return err
		}

		_, err = s.recorder.Record(ctx, tx, deleted, current.Status, deleted.Status, owner)
		return err
	})
	if err != nil {
		logger.WarnCtx(ctx, "Service: Не удалось удалить задачу", zap.Error(err), zap.String("task_id", id.String()))
		failSpan(span, err)
		return toBusinessError(err, id)
	}

	logger.InfoCtx(ctx, "Service: Задача удалена", zap.String("task_id", id.String()))
	return nil
}

func (s *TaskService) ListTasks(ctx context.Context, owner string, filter task.Filter) ([]*task.Task, error) {
	ctx = withOwner(ctx, owner)
	tasks, err := s.repo.ListActive(ctx, owner, filter)
	if err != nil {
		logger.ErrorCtx(ctx, "Service: Не удалось получить список задач", err)
		return nil, toBusinessError(err, uuid.Nil)
	}
	return tasks, nil
}

func (s *TaskService) ListCompleted(ctx context.Context, owner string, page, limit int) ([]*task.Task, error) {
	completed := true
	return s.ListTasks(ctx, owner, task.Filter{Completed: &completed, Limit: limit, Offset: offset(page, limit)})
}

func (s *TaskService) ListPending(ctx context.Context, owner string, page, limit int) ([]*task.Task, error) {
	completed := false
	return s.ListTasks(ctx, owner, task.Filter{Completed: &completed, Limit: limit, Offset: offset(page, limit)})
}

func (s *TaskService) Stats(ctx context.Context, owner string) (task.Stats, error) {
	ctx = withOwner(ctx, owner)
	stats, err := s.repo.Stats(ctx, owner)
	if err != nil {
		logger.ErrorCtx(ctx, "Service: Не удалось посчитать задачи", err)
		return task.Stats{}, toBusinessError(err, uuid.Nil)
	}
	return stats, nil
}

// ListHistory - история статусов задачи, включая удалённые задачи
func (s *TaskService) ListHistory(ctx context.Context, owner string, id uuid.UUID, filter task.HistoryFilter) ([]*task.StatusHistoryEvent, error) {
	ctx = withOwner(ctx, owner)
	if _, err := s.repo.GetByID(ctx, owner, id); err != nil {
		return nil, toBusinessError(err, id)
	}

	events, err := s.repo.ListHistory(ctx, owner, id, filter)
	if err != nil {
		logger.ErrorCtx(ctx, "Service: Не удалось получить историю", err, zap.String("task_id", id.String()))
		return nil, toBusinessError(err, id)
	}
	return events, nil
}

// CompactPriorities убирает пропуски в приоритетах владельца. История не пишется.
func (s *TaskService) CompactPriorities(ctx context.Context, owner string) (int, error) {
	ctx = withOwner(ctx, owner)
	ctx, span := startSpan(ctx, "TaskService.CompactPriorities", owner)
	defer span.End()

	changed := 0
	err := s.repo.InOwnerTx(ctx, owner, func(ctx context.Context, tx TaskTx) error {
		active, err := tx.LockActive(ctx)
		if err != nil {
			return err
		}

		moved := s.reconciler.Compact(active)
		if len(moved) == 0 {
			return nil
		}

		now := time.Now().UTC()
		for _, t := range moved {
			t.UpdatedAt = now
		}
		if err := tx.SaveBatch(ctx, moved); err != nil {
			return err
		}
		changed = len(moved)
		return nil
	})
	if err != nil {
		failSpan(span, err)
		return 0, toBusinessError(err, uuid.Nil)
	}
	span.SetAttributes(attribute.Int("changed", changed))

	if changed > 0 {
		logger.InfoCtx(ctx, "Service: Приоритеты уплотнены", zap.Int("changed", changed))
	}
	return changed, nil
}

func (s *TaskService) ListOwners(ctx context.Context) ([]string, error) {
	owners, err := s.repo.ListOwners(ctx)
	if err != nil {
		return nil, toBusinessError(err, uuid.Nil)
	}
	return owners, nil
}

func startSpan(ctx context.Context, name, owner string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("owner", owner))
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logger.WithFields(ctx, zap.String("trace_id", sc.TraceID().String()))
	}
	return ctx, span
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func withOwner(ctx context.Context, owner string) context.Context {
	return logger.WithFields(ctx, zap.String("owner", owner))
}

func validateTask(t *task.Task) error {
	if !task.TitleLongEnough(t.Title) {
		return NewValidationError("title", fmt.Sprintf("длина заголовка должна быть не меньше %d символов", task.MinTitleLength))
	}
	if !t.Status.Valid() {
		return NewValidationError("status", fmt.Sprintf("неизвестный статус %q", t.Status))
	}
	return nil
}

func offset(page, limit int) int {
	if page < 1 || limit < 1 {
		return 0
	}
	return (page - 1) * limit
}
