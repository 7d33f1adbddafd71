package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"server/log"
	"server/service"
)

// Worker one independent poll → process → sleep loop
type Worker interface {
	Name() string
	// Cycle runs one claim-and-process pass; in-flight work always finishes
	// before the loop honors a cancellation
	Cycle(ctx context.Context) error
}

// Run performs startup crash recovery once, then drives every worker until
// ctx is canceled. A shutdown lets the current claimed set finish; anything
// unclaimed simply awaits the next process start.
func Run(ctx context.Context, interval time.Duration, workers ...Worker) {
	reset, err := service.RecoverStale()
	if err != nil {
		log.Fatal("startup crash recovery failed", zap.Error(err))
	}
	if reset > 0 {
		log.Info("reset orphaned tokens to detected", zap.Int64("count", reset))
	}
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			loop(ctx, w, interval)
		}(w)
	}
	wg.Wait()
}

func loop(ctx context.Context, w Worker, interval time.Duration) {
	log.Info("worker started", zap.String("worker", w.Name()))
	for {
		if err := w.Cycle(ctx); err != nil {
			log.Error("worker cycle failed", zap.String("worker", w.Name()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("worker stopped", zap.String("worker", w.Name()))
			return
		case <-time.After(interval):
		}
	}
}
