package service

import (
	"context"
	"fmt"
	"sort"
	"taskTracker/internal/logger"
	"taskTracker/internal/models/task"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PriorityReconciler поддерживает уникальность приоритетов среди активных задач владельца.
// Работает только внутри InOwnerTx, когда набор активных задач уже заблокирован.
type PriorityReconciler struct{}

func NewPriorityReconciler() *PriorityReconciler {
	return &PriorityReconciler{}
}

// NextPriority - приоритет в конец очереди: максимум + 1, для пустого набора 1
func (r *PriorityReconciler) NextPriority(active []*task.Task) (int, error) {
	highest := 0
	for _, t := range active {
		if !t.Deleted && t.Priority > highest {
			highest = t.Priority
		}
	}
	if highest >= task.MaxPriority {
		return 0, NewValidationError("priority", "очередь заполнена до максимального приоритета")
	}
	return highest + 1, nil
}

// Cascade сдвигает цепочку задач, занимающих priority, на единицу вверх.
// Цель в расчёт не берётся. Возвращает только сдвинутые задачи (копии).
// Если цепочка упирается в MaxPriority, сдвиг невозможен.
func (r *PriorityReconciler) Cascade(active []*task.Task, targetID uuid.UUID, priority int) ([]*task.Task, error) {
	others := make([]*task.Task, 0, len(active))
	for _, t := range active {
		if t.ID == targetID || t.Deleted {
			continue
		}
		others = append(others, t)
	}
	sort.SliceStable(others, func(i, j int) bool {
		return others[i].Priority < others[j].Priority
	})

	start := sort.Search(len(others), func(i int) bool {
		return others[i].Priority >= priority
	})

	shifted := []*task.Task{}
	p := priority
	for i := start; i < len(others) && others[i].Priority == p; i++ {
		if p >= task.MaxPriority {
			return nil, NewValidationError("priority", "сдвиг выходит за максимальный приоритет")
		}
		moved := others[i].Clone()
		moved.Priority = p + 1
		shifted = append(shifted, moved)
		p++
	}
	return shifted, nil
}

// Reconcile освобождает приоритет цели и одним пакетом сохраняет сдвинутые задачи.
// Цель должна быть сохранена вызывающим до вызова.
func (r *PriorityReconciler) Reconcile(ctx context.Context, tx TaskTx, active []*task.Task, target *task.Task) ([]*task.Task, error) {
	start := time.Now()

	shifted, err := r.Cascade(active, target.ID, target.Priority)
	if err != nil {
		return nil, err
	}
	if len(shifted) == 0 {
		return shifted, nil
	}

	now := time.Now().UTC()
	for _, t := range shifted {
		t.UpdatedAt = now
	}

	if err := tx.SaveBatch(ctx, shifted); err != nil {
		logger.ErrorCtx(ctx, "Service: Ошибка сохранения сдвига приоритетов", err,
			zap.String("task_id", target.ID.String()),
			zap.Int("shifted", len(shifted)))
		return nil, fmt.Errorf("сдвиг приоритетов: %w", err)
	}

	logger.InfoCtx(ctx, "Service: Приоритеты сдвинуты",
		zap.String("task_id", target.ID.String()),
		zap.Int("priority", target.Priority),
		zap.Int("shifted", len(shifted)),
		zap.Duration("ms", time.Since(start)))

	return shifted, nil
}

// Compact перенумеровывает активные задачи в 1..n с сохранением порядка.
// Возвращает изменённые задачи (копии).
func (r *PriorityReconciler) Compact(active []*task.Task) []*task.Task {
	ordered := make([]*task.Task, 0, len(active))
	for _, t := range active {
		if !t.Deleted {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	changed := []*task.Task{}
	for i, t := range ordered {
		if t.Priority == i+1 {
			continue
		}
		moved := t.Clone()
		moved.Priority = i + 1
		changed = append(changed, moved)
	}
	return changed
}
