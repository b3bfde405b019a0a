package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/IliaW/recipe-box/internal/model"
)

type Enricher interface {
	Enrich(ctx context.Context, task *model.EnrichTask) error
}

type EnrichWorker struct {
	InputChan <-chan *model.EnrichTask
	PanicChan chan struct{}
	Enricher  Enricher
	Timeout   time.Duration
	Log       *slog.Logger
	Wg        *sync.WaitGroup
}

// Run refreshes the preview image for every task until InputChan is closed.
// A panicking worker signals PanicChan before it is marked done, so PanicChan may be closed
// once Wg.Wait returns.
func (w *EnrichWorker) Run() {
	defer w.Wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.Log.Error("PANIC!", slog.Any("err", r))
			w.PanicChan <- struct{}{}
		}
	}()
	w.Log.Debug("starting enrich worker.")

	for task := range w.InputChan {
		w.process(task)
	}
	w.Log.Debug("enrich worker stopped.")
}

func (w *EnrichWorker) process(task *model.EnrichTask) {
	ctx, cancel := context.WithTimeout(context.Background(), w.Timeout)
	defer cancel()

	start := time.Now()
	if err := w.Enricher.Enrich(ctx, task); err != nil {
		w.Log.Error("enrichment failed.", slog.String("recipe_id", task.RecipeID),
			slog.String("err", err.Error()))
		return
	}
	w.Log.Debug("recipe enriched.", slog.String("recipe_id", task.RecipeID),
		slog.Duration("took", time.Since(start)))
}

// StartPool runs size workers and restarts any that panic until PanicChan is closed.
func StartPool(w *EnrichWorker, size int) {
	for i := 0; i < size; i++ {
		w.Wg.Add(1)
		go w.Run()
	}
	go func() {
		for range w.PanicChan {
			w.Wg.Add(1)
			go w.Run()
			time.Sleep(restartDelay) // avoid polluting logs if something unrecoverable happened
		}
	}()
}

var restartDelay = 3 * time.Minute
