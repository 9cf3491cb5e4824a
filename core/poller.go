package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// CodeExchanger resolves a relay-delivered code into stored credentials.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, serviceID string, tenantID string, code string) (CredentialRecord, error)
}

type PollerDependencies struct {
	Registry        *AuthorizationRegistry
	Relay           Relay
	Exchanger       CodeExchanger
	Logger          Logger
	SchedulerLogger cron.Logger
	MetricsRecorder MetricsRecorder
	Clock           Clock
	Interval        time.Duration
	Concurrency     int
}

// TickResult summarizes one poll cycle.
type TickResult struct {
	Expired    int
	Polled     int
	Pending    int
	Exchanged  int
	Failed     int
	RelayFault int
}

// Poller resolves pending authorizations against the relay on a fixed
// interval. Ticks never overlap.
type Poller struct {
	instrumentation
	registry    *AuthorizationRegistry
	relay       Relay
	exchanger   CodeExchanger
	cronLogger  cron.Logger
	now         Clock
	interval    time.Duration
	concurrency int

	mu        sync.Mutex
	scheduler *cron.Cron
	cancel    context.CancelFunc
}

func NewPoller(deps PollerDependencies) (*Poller, error) {
	if deps.Registry == nil {
		return nil, NewConfigurationError("core: poller requires an authorization registry", nil)
	}
	if deps.Exchanger == nil {
		return nil, NewConfigurationError("core: poller requires a code exchanger", nil)
	}
	if deps.Clock == nil {
		deps.Clock = systemClock
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultPollInterval
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = DefaultPollConcurrency
	}
	if deps.SchedulerLogger == nil {
		deps.SchedulerLogger = cron.DiscardLogger
	}
	return &Poller{
		instrumentation: newInstrumentation(deps.Logger, deps.MetricsRecorder),
		registry:        deps.Registry,
		relay:           deps.Relay,
		exchanger:       deps.Exchanger,
		cronLogger:      deps.SchedulerLogger,
		now:             deps.Clock,
		interval:        deps.Interval,
		concurrency:     deps.Concurrency,
	}, nil
}

// Tick runs one poll cycle: sweep expired entries, then poll the relay once
// for every entry still pending. Entries with a code are consumed and
// exchanged; failures on one entry never affect the others.
func (p *Poller) Tick(ctx context.Context) TickResult {
	if p == nil {
		return TickResult{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := time.Now()
	now := p.now().UTC()

	result := TickResult{Expired: p.registry.Sweep(now)}
	if result.Expired > 0 {
		p.logDebug(ctx, "expired authorization requests dropped", map[string]any{"count": result.Expired})
	}
	if p.relay == nil {
		return result
	}

	entries := p.registry.Pending(now)
	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	group.SetLimit(p.concurrency)
	for _, entry := range entries {
		group.Go(func() error {
			outcome := p.pollEntry(ctx, entry)
			mu.Lock()
			result.Polled++
			switch outcome {
			case pollPending:
				result.Pending++
			case pollExchanged:
				result.Exchanged++
			case pollExchangeFailed:
				result.Failed++
			case pollRelayFault:
				result.RelayFault++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	tags := map[string]string{"operation": "poll_tick"}
	p.recordCounter(ctx, "broker.poll_tick.exchanged", int64(result.Exchanged), tags)
	p.recordCounter(ctx, "broker.poll_tick.failed", int64(result.Failed+result.RelayFault), tags)
	p.recordHistogram(ctx, "broker.poll_tick.duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)
	if result.Polled > 0 {
		p.logDebug(ctx, "poll tick completed", map[string]any{
			"polled":      result.Polled,
			"pending":     result.Pending,
			"exchanged":   result.Exchanged,
			"failed":      result.Failed,
			"relay_fault": result.RelayFault,
			"expired":     result.Expired,
		})
	}
	return result
}

type pollOutcome int

const (
	pollPending pollOutcome = iota
	pollExchanged
	pollExchangeFailed
	pollRelayFault
	pollSkipped
)

func (p *Poller) pollEntry(ctx context.Context, entry PendingAuthorization) pollOutcome {
	fields := map[string]any{"service_id": entry.ServiceID, "tenant_id": entry.TenantID}
	code, found, err := p.relay.Poll(ctx, entry.State)
	if err != nil {
		fields["error"] = err.Error()
		p.logWarn(ctx, "relay poll failed", fields)
		return pollRelayFault
	}
	if !found || strings.TrimSpace(code) == "" {
		return pollPending
	}

	consumed, err := p.registry.Consume(ctx, entry.State)
	if err != nil {
		return pollSkipped
	}
	if _, err := p.exchanger.ExchangeCode(ctx, consumed.ServiceID, consumed.TenantID, code); err != nil {
		return pollExchangeFailed
	}
	return pollExchanged
}

// Start schedules Tick every interval until Stop or ctx is cancelled.
// Sub-second intervals are rounded up to one second by the scheduler.
func (p *Poller) Start(ctx context.Context) error {
	if p == nil {
		return NewConfigurationError("core: poller is not configured", nil)
	}
	if p.relay == nil {
		return NewConfigurationError("core: relay is required to start the poller", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	scheduler := cron.New(
		cron.WithLogger(p.cronLogger),
		cron.WithChain(
			cron.Recover(p.cronLogger),
			cron.SkipIfStillRunning(p.cronLogger),
		),
	)
	scheduler.Schedule(cron.Every(p.interval), cron.FuncJob(func() {
		if runCtx.Err() != nil {
			return
		}
		p.Tick(runCtx)
	}))
	scheduler.Start()

	p.scheduler = scheduler
	p.cancel = cancel
	go p.stopWhenDone(runCtx, scheduler)
	p.logInfo(ctx, "poller started", map[string]any{"interval_ms": p.interval.Milliseconds()})
	return nil
}

// stopWhenDone releases scheduler once runCtx ends, unless Stop or a later
// Start already replaced it.
func (p *Poller) stopWhenDone(runCtx context.Context, scheduler *cron.Cron) {
	<-runCtx.Done()
	p.mu.Lock()
	if p.scheduler != scheduler {
		p.mu.Unlock()
		return
	}
	p.scheduler, p.cancel = nil, nil
	p.mu.Unlock()

	<-scheduler.Stop().Done()
	p.logInfo(context.Background(), "poller stopped", map[string]any{"reason": "context_done"})
}

// Stop halts scheduling. The returned context is done once the running tick,
// if any, has finished.
func (p *Poller) Stop() context.Context {
	if p == nil {
		return doneContext()
	}
	p.mu.Lock()
	scheduler, cancel := p.scheduler, p.cancel
	p.scheduler, p.cancel = nil, nil
	p.mu.Unlock()

	if scheduler == nil {
		return doneContext()
	}
	stopped := scheduler.Stop()
	go func() {
		<-stopped.Done()
		cancel()
	}()
	return stopped
}

func (p *Poller) Running() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scheduler != nil
}

func (p *Poller) Interval() time.Duration {
	if p == nil {
		return 0
	}
	return p.interval
}

func doneContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
