package work

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"
)

// mockProcessor implements Processor for testing
type mockProcessor struct {
	mu        sync.Mutex
	seen      []string
	failIDs   map[string]bool
	sawDryRun bool
}

func (m *mockProcessor) Process(ctx context.Context, item *Item, dryRun bool) Result {
	m.mu.Lock()
	m.seen = append(m.seen, item.ID)
	if dryRun {
		m.sawDryRun = true
	}
	m.mu.Unlock()

	if m.failIDs[item.ID] {
		return Result{ItemID: item.ID, Success: false, Error: "simulated failure"}
	}
	return Result{ItemID: item.ID, Success: true}
}

func TestNewDispatcherDefaults(t *testing.T) {
	testCases := []struct {
		name            string
		config          DispatcherConfig
		expectedWorkers int
	}{
		{"default config", DispatcherConfig{}, runtime.NumCPU()},
		{"explicit workers", DispatcherConfig{MaxWorkers: 8}, 8},
		{"negative workers defaults to CPU count", DispatcherConfig{MaxWorkers: -3}, runtime.NumCPU()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDispatcher(tc.config, &mockProcessor{})
			if d.config.MaxWorkers != tc.expectedWorkers {
				t.Errorf("expected MaxWorkers %d, got %d", tc.expectedWorkers, d.config.MaxWorkers)
			}
			if d.config.ProgressEvery != 250 {
				t.Errorf("expected default ProgressEvery 250, got %d", d.config.ProgressEvery)
			}
		})
	}
}

func TestExecuteProcessesAllItems(t *testing.T) {
	processor := &mockProcessor{failIDs: map[string]bool{"b": true}}
	d := NewDispatcher(DispatcherConfig{MaxWorkers: 4}, processor)

	items := []Item{
		{ID: "a", Path: "dump/a.png"},
		{ID: "b", Path: "dump/b.png"},
		{ID: "c", Path: "dump/c.png"},
	}

	summary, results := d.Execute(context.Background(), items)

	if summary.TotalItems != 3 {
		t.Errorf("TotalItems = %d, expected 3", summary.TotalItems)
	}
	if summary.Successful != 2 || summary.Failed != 1 {
		t.Errorf("Successful/Failed = %d/%d, expected 2/1", summary.Successful, summary.Failed)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, expected 3", len(results))
	}
	if len(processor.seen) != 3 {
		t.Errorf("processor saw %d items, expected 3", len(processor.seen))
	}
}

func TestExecutePropagatesDryRun(t *testing.T) {
	processor := &mockProcessor{}
	d := NewDispatcher(DispatcherConfig{MaxWorkers: 1, DryRun: true}, processor)

	d.Execute(context.Background(), []Item{{ID: "a", Path: "a.png"}})

	if !processor.sawDryRun {
		t.Error("expected dry-run flag to reach the processor")
	}
}

func TestExecuteProgressCallback(t *testing.T) {
	var mu sync.Mutex
	var calls int
	d := NewDispatcher(DispatcherConfig{
		MaxWorkers: 2,
		ProgressCallback: func(Result) {
			mu.Lock()
			calls++
			mu.Unlock()
		},
	}, &mockProcessor{})

	items := make([]Item, 10)
	for i := range items {
		items[i] = Item{ID: string(rune('a' + i))}
	}
	d.Execute(context.Background(), items)

	if calls != 10 {
		t.Errorf("progress callback invoked %d times, expected 10", calls)
	}
}

func TestExecuteEmptyItems(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MaxWorkers: 2}, &mockProcessor{})
	summary, results := d.Execute(context.Background(), nil)

	if summary.TotalItems != 0 || len(results) != 0 {
		t.Errorf("expected empty execution, got %+v", summary)
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(DispatcherConfig{MaxWorkers: 2}, &mockProcessor{})
	done := make(chan struct{})
	go func() {
		d.Execute(ctx, []Item{{ID: "a"}, {ID: "b"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}
