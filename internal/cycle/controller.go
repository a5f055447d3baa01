// Package cycle owns the Idle/Running/Cooldown state machine that turns
// aggregated demand into pump commands. All entry points are invoked
// from the host's single dispatch loop and return without blocking;
// timer waits are realized as scheduled wakes, never sleeps.
package cycle

import (
	"strconv"
	"time"

	"codeberg.org/mutker/circulatord/internal/actuator"
	"codeberg.org/mutker/circulatord/internal/errors"
	"codeberg.org/mutker/circulatord/internal/ledger"
	"codeberg.org/mutker/circulatord/internal/logger"
	"codeberg.org/mutker/circulatord/internal/presence"
	"codeberg.org/mutker/circulatord/internal/timerstore"
	"github.com/google/uuid"
)

// State is the controller's cycle state. The actuator is commanded ON
// iff the state is Running.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateCooldown State = "cooldown"
)

// Durations is one run/cooldown pair governing a cycle.
type Durations struct {
	Run      time.Duration
	Cooldown time.Duration
}

type Config struct {
	Normal   Durations
	Elevated Durations

	// Monitor logs decisions without commanding the pump.
	Monitor bool
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Normal.Run <= 0 || c.Normal.Cooldown <= 0 || c.Elevated.Run <= 0 || c.Elevated.Cooldown <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "cycle durations must be positive")
	}

	return nil
}

func (c Config) durations(priority presence.Priority) Durations {
	if priority == presence.PriorityElevated {
		return c.Elevated
	}

	return c.Normal
}

// Checkpoint metadata keys for the run timer.
const (
	metaPriority       = "priority"
	metaElapsedSeconds = "elapsed_seconds"
	metaCycleID        = "cycle_id"
	metaCycleStartedAt = "cycle_started_at"
)

// Controller drives the pump from demand records, timers and the daily
// ledger.
type Controller struct {
	cfg       Config
	timers    *timerstore.Store
	ledger    *ledger.Ledger
	commander actuator.Commander
	files     *timerstore.FileStore
	now       func() time.Time

	state   State
	enabled bool
	demand  presence.DemandRecord

	// Per-cycle fields, valid while state != Idle.
	latched         presence.Priority
	latchedRun      time.Duration
	pending         bool
	runTimerID      string
	cooldownTimerID string
	cycleID         string
	cycleStartedAt  time.Time

	// Pump-on accounting for the current run.
	runOnSince      time.Time
	priorRunElapsed time.Duration
}

// New creates a controller in Idle with the override enabled.
func New(cfg Config, timers *timerstore.Store, lgr *ledger.Ledger, commander actuator.Commander, files *timerstore.FileStore) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Controller{
		cfg:       cfg,
		timers:    timers,
		ledger:    lgr,
		commander: commander,
		files:     files,
		now:       time.Now,
		state:     StateIdle,
		enabled:   true,
	}, nil
}

// NewWithClock creates a controller with an injected clock, for tests.
func NewWithClock(cfg Config, timers *timerstore.Store, lgr *ledger.Ledger, commander actuator.Commander, files *timerstore.FileStore, now func() time.Time) (*Controller, error) {
	c, err := New(cfg, timers, lgr, commander, files)
	if err != nil {
		return nil, err
	}
	c.now = now

	return c, nil
}

// State returns the current cycle state.
func (c *Controller) State() State {
	return c.state
}

// Enabled reports whether the manual override allows transitions.
func (c *Controller) Enabled() bool {
	return c.enabled
}

// PendingRequest reports the sticky demand flag, meaningful in Cooldown.
func (c *Controller) PendingRequest() bool {
	return c.pending
}

// HandleDemand consumes a new demand record from the aggregator.
func (c *Controller) HandleDemand(demand presence.DemandRecord) {
	c.demand = demand

	if !c.enabled {
		return
	}

	switch c.state {
	case StateIdle:
		if demand.Active {
			c.tryStartRun(demand.Priority)
		}
	case StateRunning:
		// Priority is latched for the whole cycle; demand changes are
		// irrelevant until the run ends, but the cap may have been hit.
		c.enforceCapMidRun()
	case StateCooldown:
		if demand.Active && !c.pending {
			c.pending = true
			logger.Debug().Str("source_room", demand.SourceRoom).Msg("Demand during cooldown, request parked")
		}
	}
}

// Tick fires due timer expirations and the mid-run cap cutoff. The host
// calls it at every scheduled wake.
func (c *Controller) Tick() {
	if !c.enabled {
		return
	}

	switch c.state {
	case StateRunning:
		if c.enforceCapMidRun() {
			return
		}
		if c.timers.Expire(c.runTimerID) {
			c.finishRun(false)
		}
	case StateCooldown:
		if c.timers.Expire(c.cooldownTimerID) {
			c.finishCooldown()
		}
	case StateIdle:
		// True rest state, nothing scheduled.
	}
}

// NextWake returns the next instant the host should call Tick: the
// earliest timer expiry, or the cap cutoff if it lands sooner.
func (c *Controller) NextWake() (time.Time, bool) {
	deadline, found := c.timers.NextDeadline()

	if c.state == StateRunning {
		capLeft := time.Duration(c.ledger.RemainingCapSeconds())*time.Second - c.priorRunElapsed
		capDeadline := c.runOnSince.Add(capLeft)
		if !found || capDeadline.Before(deadline) {
			return capDeadline, true
		}
	}

	return deadline, found
}

// HandleMidnight applies the daily ledger reset. A cycle spanning
// midnight keeps running; its pump-on accounting restarts at the
// boundary so the remainder accrues into the new day.
func (c *Controller) HandleMidnight() {
	c.ledger.Reset()

	if c.state == StateRunning {
		c.runOnSince = c.now()
		c.priorRunElapsed = 0
	}

	c.publishStatus()
}

// SetEnabled applies the manual override. Disabling forces Idle,
// cancels any active timer and blocks all transitions; re-enabling
// resumes normal operation against the current demand.
func (c *Controller) SetEnabled(enabled bool) {
	if c.enabled == enabled {
		return
	}

	if !enabled {
		logger.Info().Msg("Manual override: disabled")
		if c.state == StateRunning {
			c.recordRunEnd(false)
		}
		c.cancelTimers()
		c.toIdle()
		c.enabled = false
		c.publishStatus()

		return
	}

	logger.Info().Msg("Manual override: re-enabled")
	c.enabled = true
	if c.demand.Active {
		c.tryStartRun(c.demand.Priority)
	}
	c.publishStatus()
}

// Checkpoint snapshots in-flight timers to the durable blob. The host
// invokes it on an impending restart, possibly with no advance notice.
func (c *Controller) Checkpoint() error {
	if c.state == StateRunning {
		elapsed := c.runElapsed()
		c.timers.SetMetadata(c.runTimerID, metaElapsedSeconds, strconv.FormatFloat(elapsed.Seconds(), 'f', 3, 64))
	}

	record := c.timers.Checkpoint()
	if err := c.files.Save(record); err != nil {
		return err
	}

	logger.Info().Int("timers", len(record.Timers)).Msg("Checkpoint written")

	return nil
}

// Resume restores state from the checkpoint blob at process start. A
// missing blob is a normal cold start; a corrupt one degrades to Idle
// with a warning. The blob is deleted after the handoff.
func (c *Controller) Resume() {
	record, found, err := c.files.Load()
	if err != nil {
		var domainErr errors.Error
		if errors.As(err, &domainErr) {
			logger.ErrorWithCode(domainErr).Msg("Checkpoint unreadable, starting idle")
		} else {
			logger.Warn().Err(err).Msg("Checkpoint unreadable, starting idle")
		}
	}
	if !found || err != nil {
		c.commandPump(false)
		c.publishStatus()

		return
	}

	for _, resumed := range c.timers.Resume(record) {
		switch resumed.Purpose {
		case timerstore.PurposeRun:
			c.resumeRun(resumed)
		case timerstore.PurposeCooldown:
			c.resumeCooldown(resumed)
		}
	}

	if c.state == StateIdle {
		c.commandPump(false)
	}
	c.publishStatus()

	if err := c.files.Delete(); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete consumed checkpoint")
	}
}

// tryStartRun enters Running if the ledger allows it.
func (c *Controller) tryStartRun(priority presence.Priority) {
	if c.ledger.Capped() {
		logger.Info().Msg("Demand denied, daily cap reached")

		return
	}

	durations := c.cfg.durations(priority)
	id, err := c.timers.Start(timerstore.PurposeRun, durations.Run, map[string]string{
		metaPriority: string(priority),
	})
	if err != nil {
		// A conflicting timer means the state machine is broken.
		c.failSafe(err)

		return
	}

	now := c.now()
	c.state = StateRunning
	c.latched = priority
	c.latchedRun = durations.Run
	c.pending = false
	c.runTimerID = id
	c.cooldownTimerID = ""
	c.cycleID = uuid.NewString()
	c.cycleStartedAt = now
	c.runOnSince = now
	c.priorRunElapsed = 0

	c.timers.SetMetadata(id, metaCycleID, c.cycleID)
	c.timers.SetMetadata(id, metaCycleStartedAt, now.Format(time.RFC3339))

	if err := c.commandPump(true); err != nil {
		c.failSafe(err)

		return
	}

	logger.Info().
		Str("priority", string(priority)).
		Dur("run", durations.Run).
		Dur("cooldown", durations.Cooldown).
		Msg("Cycle started")
	c.publishStatus()
}

// enforceCapMidRun ends the run early once today's usage plus the
// elapsed run time reaches the cap. Returns true if it cut the run off.
func (c *Controller) enforceCapMidRun() bool {
	if c.state != StateRunning {
		return false
	}

	elapsed := int(c.runElapsed().Seconds())
	if !c.ledger.WouldExceedCap(elapsed) {
		return false
	}

	logger.Warn().Int("elapsed_seconds", elapsed).Msg("Daily cap reached mid-run, cutting cycle short")
	c.timers.Cancel(c.runTimerID)
	c.finishRun(true)

	return true
}

// finishRun performs Running to Cooldown: pump off, usage recorded with
// the actual elapsed time, cooldown timer started for the latched
// priority.
func (c *Controller) finishRun(capCutoff bool) {
	c.recordRunEnd(capCutoff)
	if capCutoff {
		c.ledger.MarkCapped()
	}

	if err := c.commandPump(false); err != nil {
		c.failSafe(err)

		return
	}

	cooldown := c.cfg.durations(c.latched).Cooldown
	id, err := c.timers.Start(timerstore.PurposeCooldown, cooldown, nil)
	if err != nil {
		c.failSafe(err)

		return
	}

	c.state = StateCooldown
	c.runTimerID = ""
	c.cooldownTimerID = id
	c.pending = false

	logger.Info().Dur("cooldown", cooldown).Bool("cap_cutoff", capCutoff).Msg("Run finished, cooling down")
	c.publishStatus()
}

// finishCooldown performs Cooldown to Idle, or straight back to Running
// when a request was parked during the cooldown.
func (c *Controller) finishCooldown() {
	pending := c.pending
	c.toIdle()

	logger.Info().Bool("pending_request", pending).Msg("Cooldown finished")

	if pending {
		// Priority is re-evaluated now; it may differ from the cycle
		// that just ended. If capped, the request is dropped.
		c.tryStartRun(c.demand.Priority)
		if c.state == StateRunning {
			return
		}
	}

	c.publishStatus()
}

func (c *Controller) resumeRun(resumed timerstore.Resumed) {
	priority := presence.Priority(resumed.Metadata[metaPriority])
	if priority != presence.PriorityElevated {
		priority = presence.PriorityNormal
	}

	c.latched = priority
	c.latchedRun = c.cfg.durations(priority).Run
	c.cycleID = resumed.Metadata[metaCycleID]
	if c.cycleID == "" {
		c.cycleID = uuid.NewString()
	}
	c.cycleStartedAt = c.now()
	if at, err := time.Parse(time.RFC3339, resumed.Metadata[metaCycleStartedAt]); err == nil {
		c.cycleStartedAt = at
	}
	c.priorRunElapsed = 0
	if sec, err := strconv.ParseFloat(resumed.Metadata[metaElapsedSeconds], 64); err == nil {
		c.priorRunElapsed = time.Duration(sec * float64(time.Second))
	}
	c.runOnSince = c.now()

	if resumed.Expired {
		// The countdown ran out across the outage: fire the completion
		// exactly once.
		c.runTimerID = ""
		logger.Info().Msg("Run timer expired across restart, completing cycle")
		c.finishRun(false)

		return
	}

	c.state = StateRunning
	c.runTimerID = resumed.ID
	// Re-command ON: the actuator's own state may have dropped with the
	// outage.
	if err := c.commandPump(true); err != nil {
		c.failSafe(err)

		return
	}

	logger.Info().
		Str("priority", string(priority)).
		Dur("remaining", resumed.Remaining).
		Msg("Resumed running cycle")
}

func (c *Controller) resumeCooldown(resumed timerstore.Resumed) {
	// Presence lost during the outage is not assumed back.
	c.pending = false
	if err := c.commandPump(false); err != nil {
		logger.Error().Err(err).Msg("Failed to command pump off, actuator may be stuck on")
	}

	if resumed.Expired {
		logger.Info().Msg("Cooldown expired across restart")
		c.toIdle()

		return
	}

	c.state = StateCooldown
	c.cooldownTimerID = resumed.ID
	logger.Info().Dur("remaining", resumed.Remaining).Msg("Resumed cooldown")
}

// recordRunEnd books the actual elapsed run time and the completed
// cycle, clamped so a late tick never overruns the latched duration.
func (c *Controller) recordRunEnd(capCutoff bool) {
	elapsed := c.runElapsed()
	if c.latchedRun > 0 && elapsed > c.latchedRun {
		elapsed = c.latchedRun
	}
	seconds := int(elapsed.Seconds())

	c.ledger.RecordUsage(seconds, true)
	c.ledger.RecordCycle(ledger.CycleRecord{
		ID:         c.cycleID,
		StartedAt:  c.cycleStartedAt,
		EndedAt:    c.now(),
		RunSeconds: seconds,
		Priority:   string(c.latched),
		CapCutoff:  capCutoff,
	})
}

func (c *Controller) runElapsed() time.Duration {
	return c.priorRunElapsed + c.now().Sub(c.runOnSince)
}

func (c *Controller) cancelTimers() {
	if c.runTimerID != "" {
		c.timers.Cancel(c.runTimerID)
	}
	if c.cooldownTimerID != "" {
		c.timers.Cancel(c.cooldownTimerID)
	}
}

func (c *Controller) toIdle() {
	c.state = StateIdle
	c.pending = false
	c.runTimerID = ""
	c.cooldownTimerID = ""
	if err := c.commandPump(false); err != nil {
		logger.Error().Err(err).Msg("Failed to command pump off, actuator may be stuck on")
	}
}

// failSafe handles internal faults: whatever went wrong, the pump must
// not be left stuck ON.
func (c *Controller) failSafe(err error) {
	var domainErr errors.Error
	if errors.As(err, &domainErr) {
		logger.ErrorWithCode(domainErr).Msg("Internal fault, failing safe to idle")
	} else {
		logger.Error().Err(err).Msg("Internal fault, failing safe to idle")
	}

	c.cancelTimers()
	c.toIdle()
	c.publishStatus()
}

func (c *Controller) commandPump(on bool) error {
	if c.cfg.Monitor {
		logger.Info().Bool("on", on).Msg("Monitor mode, pump command suppressed")

		return nil
	}

	return c.commander.SetPump(on)
}

func (c *Controller) publishStatus() {
	status := actuator.Status{
		State:          string(c.state),
		PriorityActive: c.state != StateIdle && c.latched == presence.PriorityElevated,
		RunSeconds:     c.ledger.RunSeconds(),
		CycleCount:     c.ledger.CycleCount(),
	}

	if err := c.commander.PublishStatus(status); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish status")
	}
}
