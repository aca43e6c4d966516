// Package work provides the bounded worker pool that drives per-candidate
// digesting and reconciliation. Items are embarrassingly parallel; any shared
// mutation belongs to the processor's own critical section.
package work

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/dotlessone/texvault/pkg/logger"
)

// Item is one unit of work: a candidate asset discovered by the scanner.
type Item struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Result represents the outcome of processing one item.
type Result struct {
	ItemID   string        `json:"item_id"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output,omitempty"`
}

// Summary aggregates the results of one dispatch.
type Summary struct {
	TotalItems    int           `json:"total_items"`
	Successful    int           `json:"successful"`
	Failed        int           `json:"failed"`
	TotalDuration time.Duration `json:"total_duration"`
	Workers       int           `json:"workers"`
}

// Processor handles individual work items. Implementations must catch their
// own per-item errors and report them through the Result; an error never
// crosses the worker boundary.
type Processor interface {
	Process(ctx context.Context, item *Item, dryRun bool) Result
}

// DispatcherConfig configures the dispatcher
type DispatcherConfig struct {
	MaxWorkers       int
	DryRun           bool
	ProgressCallback func(result Result)
	ProgressEvery    int
}

// Dispatcher fans items out to a bounded pool of workers.
type Dispatcher struct {
	config    DispatcherConfig
	processor Processor
}

// NewDispatcher creates a new work dispatcher
func NewDispatcher(config DispatcherConfig, processor Processor) *Dispatcher {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = 250
	}
	return &Dispatcher{
		config:    config,
		processor: processor,
	}
}

// Execute processes all items and returns an execution summary. Item order of
// completion is nondeterministic; callers needing deterministic output sort
// results afterwards.
func (d *Dispatcher) Execute(ctx context.Context, items []Item) (*Summary, []Result) {
	logger.Debug("dispatching work items",
		logger.Int("items", len(items)),
		logger.Int("workers", d.config.MaxWorkers))

	startTime := time.Now()

	workChan := make(chan *Item, len(items))
	resultChan := make(chan Result, len(items))

	var wg sync.WaitGroup
	for i := 0; i < d.config.MaxWorkers; i++ {
		wg.Add(1)
		go d.worker(ctx, workChan, resultChan, &wg)
	}

	go func() {
		defer close(workChan)
		for i := range items {
			select {
			case workChan <- &items[i]:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]Result, 0, len(items))
	processed := 0
	for result := range resultChan {
		results = append(results, result)
		processed++

		if d.config.ProgressCallback != nil {
			d.config.ProgressCallback(result)
		}
		if processed%d.config.ProgressEvery == 0 || processed == len(items) {
			logger.Info("progress",
				logger.Int("processed", processed),
				logger.Int("total", len(items)))
		}
	}

	summary := &Summary{
		TotalItems:    len(results),
		TotalDuration: time.Since(startTime),
		Workers:       d.config.MaxWorkers,
	}
	for _, result := range results {
		if result.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	return summary, results
}

// worker processes items from the work channel until it closes.
func (d *Dispatcher) worker(ctx context.Context, workChan <-chan *Item, resultChan chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case item, ok := <-workChan:
			if !ok {
				return
			}

			startTime := time.Now()
			result := d.processor.Process(ctx, item, d.config.DryRun)
			result.Duration = time.Since(startTime)

			select {
			case resultChan <- result:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
