package heatmap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"llmdash/internal/models"
	"llmdash/internal/utils"
)

// PollInterval is the fixed recurrence period for automatic refresh.
const PollInterval = 10 * time.Second

// NoServersMessage is shown when a fetch succeeds but no servers are
// configured. This is a terminal display state, not an error.
const NoServersMessage = "No active GPU servers available"

// ErrSeedBusy is returned when demo seeding is already in flight.
var ErrSeedBusy = errors.New("heatmap: seeding already in progress")

// Source supplies one utilization batch per fetch.
type Source interface {
	Fetch(ctx context.Context) (*models.UtilizationEnvelope, error)
}

// Seeder performs the external demo-data seeding action.
type Seeder interface {
	SeedDemoData(ctx context.Context) error
}

// ViewSink receives render state transitions. Implementations own the
// rendering surface; the poller guarantees that every cycle ends in exactly
// one of ShowData/ShowEmpty/ShowError and that HideLoading always follows.
type ViewSink interface {
	ShowLoading()
	HideLoading()
	ShowData(*Frame)
	ShowEmpty(message string)
	ShowError(message string)
}

// Poller owns the recurring fetch-render cycle for the utilization heatmap.
type Poller struct {
	source   Source
	seeder   Seeder
	sink     ViewSink
	logger   *utils.Logger
	interval time.Duration

	mu   sync.Mutex // guards stop
	stop chan struct{}
	wg   sync.WaitGroup

	renderMu sync.Mutex // serializes sink state application across cycles
	seeding  atomic.Bool
}

// NewPoller wires a poller to its data source, seeding action, and sink.
// A nil seeder disables SeedDemoData. Interval <= 0 selects PollInterval.
func NewPoller(source Source, seeder Seeder, sink ViewSink, logger *utils.Logger, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = PollInterval
	}
	return &Poller{
		source:   source,
		seeder:   seeder,
		sink:     sink,
		logger:   logger,
		interval: interval,
	}
}

// Start runs one immediate cycle and then schedules recurring cycles.
// Any previously installed schedule is canceled first, so repeated Start
// calls never stack timers.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
	}
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runCycle(context.Background())
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.runCycle(context.Background())
			case <-stop:
				return
			}
		}
	}()
}

// Stop cancels the recurring schedule. It does not interrupt a cycle already
// in flight; that cycle will still complete and render. Safe to call before
// Start or more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// RefreshNow runs one out-of-band fetch-render cycle. The interval schedule
// is left untouched. Overlap with a scheduled cycle is allowed; the later
// completion wins on the sink.
func (p *Poller) RefreshNow(ctx context.Context) {
	p.runCycle(ctx)
}

// SeedDemoData invokes the seeding collaborator and, on success, refreshes
// immediately. While a seed is in flight further calls fail with ErrSeedBusy;
// the busy flag is cleared on success and failure alike.
func (p *Poller) SeedDemoData(ctx context.Context) error {
	if p.seeder == nil {
		return errors.New("heatmap: no seeder configured")
	}
	if !p.seeding.CompareAndSwap(false, true) {
		return ErrSeedBusy
	}
	defer p.seeding.Store(false)

	if err := p.seeder.SeedDemoData(ctx); err != nil {
		p.logf("Demo data seeding failed: %v", err)
		return err
	}
	p.RefreshNow(ctx)
	return nil
}

// Seeding reports whether a demo seed is currently in flight, so a UI can
// disable its trigger control.
func (p *Poller) Seeding() bool {
	return p.seeding.Load()
}

// runCycle performs one fetch and resolves it into exactly one visual state.
// Failures never propagate; they are absorbed into the error display state.
func (p *Poller) runCycle(ctx context.Context) {
	started := time.Now()
	p.sink.ShowLoading()
	defer p.sink.HideLoading()

	env, err := p.source.Fetch(ctx)

	p.renderMu.Lock()
	defer p.renderMu.Unlock()

	outcome := ""
	switch {
	case err != nil:
		outcome = outcomeTransportError
		p.logf("Utilization fetch failed: %v", err)
		p.sink.ShowError(err.Error())
	case env.Status == models.StatusError:
		outcome = outcomePayloadError
		msg := env.Message
		if msg == "" {
			msg = "utilization source reported an error"
		}
		p.logf("Utilization source error: %s", msg)
		p.sink.ShowError(msg)
	case len(env.Data) == 0:
		outcome = outcomeEmpty
		p.sink.ShowEmpty(NoServersMessage)
	default:
		outcome = outcomeData
		p.sink.ShowData(BuildFrame(env.Data, batchTime(env.Timestamp)))
	}

	pollCycles.WithLabelValues(outcome).Inc()
	pollDuration.Observe(time.Since(started).Seconds())
}

// batchTime parses the envelope capture time, falling back to now so the
// "last updated" indicator never goes blank on a malformed timestamp.
func batchTime(stamp string) time.Time {
	if stamp == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339, stamp); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999", stamp); err == nil {
		return t
	}
	return time.Now().UTC()
}

func (p *Poller) logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if p.logger != nil {
		p.logger.Write(msg)
		return
	}
	log.Println(msg)
}
