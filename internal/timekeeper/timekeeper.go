// Package timekeeper implements the cron-firing loop:
// every cronMonitorIntervalSeconds it attempts the version.cron_on
// leader election, and on winning, evaluates every schedule row and
// calls send for any whose firing window has just elapsed. Clock skew
// between the application host and the database server is tracked on
// its own cadence and applied as a correction before computing fire
// windows.
package timekeeper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/relayq/relayq/internal/domain"
	"github.com/relayq/relayq/internal/events"
	sqlstore "github.com/relayq/relayq/internal/storage/sql"
	"github.com/relayq/relayq/internal/validate"
	"github.com/relayq/relayq/internal/workerrt"
)

// SendFunc enqueues one job for name, mirroring manager.Manager.Send's
// shape without importing the manager package (avoids a cyclic
// dependency: manager does not need to know about the timekeeper).
// options carries the schedule row's serialized send options; the
// façade decodes it before calling the manager.
type SendFunc func(ctx context.Context, queue string, data, options json.RawMessage) (string, error)

// Config holds the timekeeper's cadences. TickInterval is the loop's
// own wake-up cadence (cronMonitorIntervalSeconds, default 60s); it
// doubles as the cron debounce window and the cron_on lease width, so
// each cron moment fires at most once fleet-wide per window.
// ArchiveInterval is the enable/disable gate only: cron is disabled
// entirely when it drops below 60s, since archival that aggressive
// would misbehave against the one-minute firing window.
type Config struct {
	TickInterval         time.Duration
	ArchiveInterval      time.Duration
	ClockMonitorInterval time.Duration
	MaxStartupJitter     time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:         60 * time.Second,
		ArchiveInterval:      86400 * time.Second,
		ClockMonitorInterval: 60 * time.Second,
		MaxStartupJitter:     10 * time.Second,
	}
}

// Timekeeper owns the cron firing loop.
type Timekeeper struct {
	store *sqlstore.Store
	send  SendFunc
	cfg   Config
	sink  events.Sink

	skew     time.Duration // dbTime - localTime, refreshed on ClockMonitorInterval
	lastSkew time.Time
}

// New constructs a Timekeeper. If cfg.ArchiveInterval is below 60s,
// cron is disabled entirely and Run becomes a no-op.
func New(store *sqlstore.Store, send SendFunc, cfg Config, sink events.Sink) *Timekeeper {
	return &Timekeeper{store: store, send: send, cfg: cfg, sink: sink}
}

// Enabled reports whether the configured cadence permits cron firing.
func (tk *Timekeeper) Enabled() bool {
	return tk.cfg.ArchiveInterval >= 60*time.Second
}

// Run drives the cron tick and the clock-skew measurement until ctx is
// cancelled. A no-op (after the initial skew measurement) when
// !Enabled().
func (tk *Timekeeper) Run(ctx context.Context) {
	tk.measureSkew(ctx)

	if !tk.Enabled() {
		slog.WarnContext(ctx, "cron disabled: archive interval below 60s minimum firing window")
		return
	}

	jitter := workerrt.StartupJitter(tk.cfg.MaxStartupJitter)
	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	cronTicker := time.NewTicker(tk.cfg.TickInterval)
	skewTicker := time.NewTicker(tk.cfg.ClockMonitorInterval)
	defer cronTicker.Stop()
	defer skewTicker.Stop()

	tk.runCronTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cronTicker.C:
			tk.runCronTick(ctx)
		case <-skewTicker.C:
			tk.measureSkew(ctx)
		}
	}
}

// measureSkew records dbTime - localTime and emits a clock-skew
// warning when the magnitude reaches the 60s threshold.
func (tk *Timekeeper) measureSkew(ctx context.Context) {
	localBefore := time.Now().UTC()
	dbNow, err := tk.store.ServerNow(ctx)
	if err != nil {
		tk.publishError("timekeeper:skew", err)
		return
	}
	localAfter := time.Now().UTC()
	localMid := localBefore.Add(localAfter.Sub(localBefore) / 2)

	skew := dbNow.Sub(localMid)
	tk.skew = skew
	tk.lastSkew = time.Now()

	if abs(skew) >= 60*time.Second {
		direction := "ahead"
		if skew < 0 {
			direction = "behind"
		}
		tk.publish(events.Event{Type: events.TypeClockSkew, At: time.Now(), Payload: events.ClockSkewPayload{
			Delta: abs(skew), Direction: direction,
		}})
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// now returns the skew-corrected wallclock time.
func (tk *Timekeeper) now() time.Time {
	return time.Now().UTC().Add(tk.skew)
}

func (tk *Timekeeper) runCronTick(ctx context.Context) {
	now := tk.now()
	cutoff := now.Add(-tk.cfg.TickInterval)
	won, err := tk.store.TryAcquireCron(ctx, now, cutoff)
	if err != nil {
		tk.publishError("timekeeper:acquire", err)
		return
	}
	if !won {
		slog.DebugContext(ctx, "cron tick skipped, another instance holds the lease")
		return
	}

	schedules, err := tk.store.GetSchedules(ctx)
	if err != nil {
		tk.publishError("timekeeper:list_schedules", err)
		return
	}

	for _, sch := range schedules {
		if err := tk.evaluate(ctx, sch, now, tk.cfg.TickInterval); err != nil {
			tk.publishError(fmt.Sprintf("timekeeper:schedule:%s", sch.Name), err)
		}
	}
}

// evaluate computes the most recent firing moment for one schedule and
// fires send when that moment fell inside the window just elapsed,
// so a cron moment missed by more than one debounce window stays
// missed rather than firing late.
func (tk *Timekeeper) evaluate(ctx context.Context, sch domain.Schedule, now time.Time, window time.Duration) error {
	sched, loc, err := validate.Cron(sch.Cron, sch.Timezone)
	if err != nil {
		return fmt.Errorf("parse schedule: %w", err)
	}

	nowInTZ := now.In(loc)
	nextFire := sched.Next(nowInTZ)

	// Walk forward from one window back to locate prevFire, the most
	// recent firing moment <= now. No firing moment in the window at
	// all means nothing to do.
	prevFire := sched.Next(nowInTZ.Add(-window).Add(-time.Second))
	if prevFire.After(nowInTZ) {
		return nil
	}
	for {
		next := sched.Next(prevFire)
		if next.After(nowInTZ) {
			break
		}
		prevFire = next
	}

	fires := nowInTZ.Sub(prevFire) < window && nowInTZ.Before(nextFire)
	if !fires {
		return nil
	}

	if _, err := tk.send(ctx, sch.Name, sch.Data, sch.Options); err != nil {
		return fmt.Errorf("fire schedule: %w", err)
	}
	tk.publish(events.Event{Type: events.TypeSchedule, At: time.Now(), Payload: events.SchedulePayload{
		Name: sch.Name, Cron: sch.Cron, Tz: sch.Timezone,
	}})
	return nil
}

func (tk *Timekeeper) publish(ev events.Event) {
	if tk.sink != nil {
		tk.sink.Publish(ev)
	}
}

func (tk *Timekeeper) publishError(source string, err error) {
	tk.publish(events.Event{Type: events.TypeError, At: time.Now(), Payload: events.ErrorPayload{
		Source: source, Err: fmt.Errorf("%s: %w", source, err),
	}})
}

// Schedule upserts a cron entry bound to queue (one schedule per
// queue). The cron expression is validated eagerly here, in
// the same way the admission validator does, so a malformed expression
// is rejected before ever reaching storage; a foreign-key violation
// (the queue doesn't exist) is remapped by the storage layer to
// domain.ErrScheduleQueueNotFound.
func (tk *Timekeeper) Schedule(ctx context.Context, name, cronExpr string, tz string, data, options json.RawMessage) error {
	tz, err := validate.Timezone(tz)
	if err != nil {
		return err
	}
	if _, _, err := validate.Cron(cronExpr, tz); err != nil {
		return err
	}

	return tk.store.UpsertSchedule(ctx, domain.Schedule{
		Name:     name,
		Cron:     cronExpr,
		Timezone: tz,
		Data:     data,
		Options:  options,
	})
}

// Unschedule removes a queue's schedule row.
func (tk *Timekeeper) Unschedule(ctx context.Context, name string) error {
	return tk.store.DeleteSchedule(ctx, name)
}
