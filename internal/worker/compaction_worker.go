package worker

import (
	"context"
	"fmt"
	"taskTracker/internal/logger"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Compactor interface {
	ListOwners(ctx context.Context) ([]string, error)
	CompactPriorities(ctx context.Context, owner string) (int, error)
}

// CompactionWorker периодически убирает пропуски в приоритетах владельцев
type CompactionWorker struct {
	service  Compactor
	interval time.Duration
}

func NewCompactionWorker(service Compactor, interval *time.Duration) *CompactionWorker {
	intervalToSet := 10 * time.Minute
	if interval != nil && *interval > 0 {
		intervalToSet = *interval
	}

	return &CompactionWorker{
		service:  service,
		interval: intervalToSet,
	}
}

func (w *CompactionWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logger.Info("Worker: Уплотнение приоритетов запущено", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ticker.C:
			if _, err := w.Compact(ctx); err != nil {
				logger.Warn("Worker: Ошибка уплотнения приоритетов", zap.Error(err))
			}
		case <-ctx.Done():
			logger.Info("Worker: Уплотнение приоритетов останавливается")
			return
		}
	}
}

// Compact проходит по всем владельцам, ошибка одного владельца не останавливает остальных.
// Возвращает число перенумерованных задач.
func (w *CompactionWorker) Compact(ctx context.Context) (int, error) {
	start := time.Now()
	ctx = logger.WithFields(ctx, zap.String("run_id", uuid.NewString()))

	owners, err := w.service.ListOwners(ctx)
	if err != nil {
		return 0, fmt.Errorf("получение владельцев: %w", err)
	}

	changed, failed := 0, 0
	for _, owner := range owners {
		if ctx.Err() != nil {
			break
		}

		n, err := w.service.CompactPriorities(ctx, owner)
		if err != nil {
			failed++
			logger.WarnCtx(ctx, "Worker: Не удалось уплотнить приоритеты владельца", zap.Error(err), zap.String("owner", owner))
			continue
		}
		changed += n
	}

	logger.InfoCtx(ctx, "Worker: Завершение уплотнения",
		zap.Duration("ms", time.Since(start)),
		zap.Int("owners", len(owners)),
		zap.Int("changed", changed),
		zap.Int("failed", failed))

	return changed, nil
}
