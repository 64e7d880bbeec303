package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/posterforge/posterforge/internal/exportlog"
	"github.com/posterforge/posterforge/internal/item"
	"github.com/posterforge/posterforge/internal/media"
	"github.com/posterforge/posterforge/pkg/events"
)

// Orchestrator owns the job registry and the whole job lifecycle: FIFO
// admission under the job-concurrency ceiling, bounded item workers, and
// terminal transitions.
type Orchestrator struct {
	maxConcurrent   int
	itemConcurrency int

	mu      sync.Mutex
	jobs    map[string]*Job
	seq     uint64
	running int

	servers   map[string]media.Server
	adapters  map[string]media.Adapter
	processor *item.Processor
	logs      *exportlog.Manager
	bus       *events.Bus
	logger    *zap.Logger
}

// NewOrchestrator wires the orchestrator. servers and adapters are keyed
// by the server's logical name.
func NewOrchestrator(
	maxConcurrent, itemConcurrency int,
	servers map[string]media.Server,
	adapters map[string]media.Adapter,
	processor *item.Processor,
	logs *exportlog.Manager,
	bus *events.Bus,
	logger *zap.Logger,
) *Orchestrator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if itemConcurrency < 1 {
		itemConcurrency = 1
	}
	return &Orchestrator{
		maxConcurrent:   maxConcurrent,
		itemConcurrency: itemConcurrency,
		jobs:            make(map[string]*Job),
		servers:         servers,
		adapters:        adapters,
		processor:       processor,
		logs:            logs,
		bus:             bus,
		logger:          logger.Named("orchestrator"),
	}
}

// Submit registers a new queued job and attempts admission. It never
// blocks the caller; validation of the source happens when the job runs.
func (o *Orchestrator) Submit(source string, libraryIDs []string, opts Options) string {
	o.mu.Lock()
	o.seq++
	j := &Job{
		ID:         uuid.NewString(),
		Seq:        o.seq,
		Type:       TypePosterpackGenerate,
		Source:     source,
		LibraryIDs: append([]string(nil), libraryIDs...),
		Options:    opts,
		State:      StateQueued,
		CreatedAt:  time.Now().UTC(),
	}
	o.jobs[j.ID] = j
	snap := j.snapshot()
	o.mu.Unlock()

	o.logger.Info("job submitted",
		zap.String("job_id", j.ID),
		zap.String("source", source),
		zap.Strings("libraries", libraryIDs))
	o.bus.Publish(events.TypeJobAdded, snap)

	o.admitNext()
	return j.ID
}

// Cancel transitions a job to cancelled. It succeeds only while the job is
// still queued; a running job always runs to completion or failure.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok || j.State != StateQueued {
		o.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	j.State = StateCancelled
	j.CompletedAt = &now
	snap := j.snapshot()
	o.mu.Unlock()

	o.logger.Info("job cancelled", zap.String("job_id", id))
	o.bus.Publish(events.TypeJobCancelled, snap)
	return true
}

// Status returns a snapshot of one job.
func (o *Orchestrator) Status(id string) (Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// List returns snapshots ordered by creation time, newest first. With
// state filters, only matching jobs are returned.
func (o *Orchestrator) List(states ...State) []Snapshot {
	filter := make(map[State]struct{}, len(states))
	for _, s := range states {
		filter[s] = struct{}{}
	}

	o.mu.Lock()
	all := make([]*Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		if len(filter) > 0 {
			if _, ok := filter[j.State]; !ok {
				continue
			}
		}
		all = append(all, j)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].Seq > all[k].Seq })
	snaps := make([]Snapshot, len(all))
	for i, j := range all {
		snaps[i] = j.snapshot()
	}
	o.mu.Unlock()
	return snaps
}

// Stats reports per-state counts and the job-concurrency ceiling.
func (o *Orchestrator) Stats() Statistics {
	o.mu.Lock()
	defer o.mu.Unlock()
	stats := Statistics{MaxConcurrent: o.maxConcurrent}
	for _, j := range o.jobs {
		switch j.State {
		case StateQueued:
			stats.Queued++
		case StateRunning:
			stats.Running++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		case StateCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// admitNext starts the oldest queued job if a running slot is free. Called
// after every submission and, asynchronously, after every terminal
// transition.
func (o *Orchestrator) admitNext() {
	o.mu.Lock()
	if o.running >= o.maxConcurrent {
		o.mu.Unlock()
		return
	}
	var next *Job
	for _, j := range o.jobs {
		if j.State != StateQueued {
			continue
		}
		if next == nil || j.Seq < next.Seq {
			next = j
		}
	}
	if next == nil {
		o.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	next.State = StateRunning
	next.StartedAt = &now
	o.running++
	snap := next.snapshot()
	id := next.ID
	o.mu.Unlock()

	o.logger.Info("job admitted", zap.String("job_id", id))
	o.bus.Publish(events.TypeJobStarted, snap)
	go o.run(id)
}

// run executes one admitted job to a terminal state.
func (o *Orchestrator) run(id string) {
	jlog := o.logs.ForJob(id)
	defer jlog.Close()
	jlog.SetSink(func(line string) {
		o.mu.Lock()
		if j, ok := o.jobs[id]; ok {
			j.Logs = append(j.Logs, line)
		}
		o.mu.Unlock()
	})

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job panicked", zap.String("job_id", id), zap.Any("panic", r))
			o.finish(id, fmt.Errorf("internal error: %v", r))
		}
	}()

	o.mu.Lock()
	j := o.jobs[id]
	source := j.Source
	libraryIDs := append([]string(nil), j.LibraryIDs...)
	opts := j.Options
	o.mu.Unlock()

	ctx := context.Background()

	server, ok := o.servers[source]
	if !ok {
		o.finish(id, fmt.Errorf("unknown source server %q", source))
		return
	}
	adapter, ok := o.adapters[server.Name]
	if !ok {
		o.finish(id, fmt.Errorf("no adapter registered for server %q", server.Name))
		return
	}

	jlog.Info("job started", map[string]interface{}{
		"source": source, "libraries": libraryIDs,
	})

	// A library that fails to list contributes zero items and a warning; it
	// never aborts the job.
	var items []media.Item
	for _, libraryID := range libraryIDs {
		fetched, err := adapter.FetchLibraryItems(ctx, libraryID)
		if err != nil {
			jlog.Warn("library fetch failed", map[string]string{
				"library": libraryID, "error": err.Error(),
			})
			continue
		}
		items = append(items, fetched...)
	}

	filtered, counters, err := applyFilters(items, opts)
	if err != nil {
		o.finish(id, fmt.Errorf("invalid filter: %w", err))
		return
	}
	if len(counters) > 0 {
		jlog.Info("filter results", counters)
	}
	if len(filtered) == 0 {
		o.finish(id, fmt.Errorf("no items found"))
		return
	}

	o.mu.Lock()
	j.TotalItems = len(filtered)
	snap := j.snapshot()
	o.mu.Unlock()
	o.bus.Publish(events.TypeJobProgress, snap)

	o.processItems(ctx, id, filtered, server, jlog)
	o.finish(id, nil)
}

// processItems drains the item queue with a bounded worker pool. Order is
// not guaranteed; workers race for queue entries.
func (o *Orchestrator) processItems(ctx context.Context, id string, items []media.Item, server media.Server, jlog *exportlog.JobLog) {
	queue := make(chan media.Item)
	var wg sync.WaitGroup

	workers := o.itemConcurrency
	if workers > len(items) {
		workers = len(items)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range queue {
				result := o.processor.Process(ctx, it, server, jlog)
				o.recordResult(id, result)
			}
		}()
	}
	for _, it := range items {
		queue <- it
	}
	close(queue)
	wg.Wait()
}

// recordResult appends one item result and advances the progress counters.
func (o *Orchestrator) recordResult(id string, result item.Result) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	j.Results = append(j.Results, result)
	j.ProcessedItems++
	if j.TotalItems > 0 {
		j.Percent = float64(j.ProcessedItems) / float64(j.TotalItems) * 100
	}
	if result.Success {
		j.Summary.Succeeded++
		j.Summary.TotalBytes += result.Size
	} else {
		j.Summary.Failed++
	}
	snap := j.snapshot()
	o.mu.Unlock()

	o.bus.Publish(events.TypeJobProgress, snap)
}

// finish moves a running job to its terminal state, releases the running
// slot and schedules the next admission.
func (o *Orchestrator) finish(id string, jobErr error) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok || j.State != StateRunning {
		o.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	j.CompletedAt = &now
	j.Percent = 100
	if jobErr != nil {
		j.State = StateFailed
		j.Error = jobErr.Error()
	} else {
		j.State = StateCompleted
	}
	o.running--
	snap := j.snapshot()
	o.mu.Unlock()

	if jobErr != nil {
		o.logger.Warn("job failed", zap.String("job_id", id), zap.Error(jobErr))
		o.bus.Publish(events.TypeJobFailed, snap)
	} else {
		o.logger.Info("job completed",
			zap.String("job_id", id),
			zap.Int("succeeded", snap.Summary.Succeeded),
			zap.Int("failed", snap.Summary.Failed),
			zap.Int64("bytes", snap.Summary.TotalBytes))
		o.bus.Publish(events.TypeJobCompleted, snap)
	}

	// Admission runs on its own goroutine to give submissions racing with
	// this completion a fair chance at the slot.
	go o.admitNext()
}
