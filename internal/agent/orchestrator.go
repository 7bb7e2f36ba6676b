// internal/agent/orchestrator.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
	"github.com/xkilldash9x/ctlbridge/internal/config"
)

// job is one submitted decision exchange.
type job struct {
	req        *schemas.DecisionRequest
	generation uint64
}

// Stats is a point-in-time view of the orchestrator.
type Stats struct {
	Mode                   schemas.ControlMode
	Degraded               bool
	ConsecutiveFailures    int
	MaxConsecutiveFailures int
	LastIntent             schemas.IntentType
	LastConfidence         float64
	InFlight               bool
	Pending                bool
	Ticks                  uint64
	Submitted              uint64 // Requests handed to the worker.
	Dropped                uint64 // Requests skipped because one was already in flight.
	Rejected               uint64 // Requests that failed validation.
	Decided                uint64 // Exchanges that produced an intent.
	Failed                 uint64 // Exchanges that produced a failure tag.
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModeState shares an existing mode flag instead of creating one.
func WithModeState(m *ModeState) Option {
	return func(o *Orchestrator) { o.mode = m }
}

// WithClock overrides the clock used for engine timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs the per-tick control state machine. Tick, HandleTick and
// Reset belong to the tick goroutine; everything else is safe to call from
// any goroutine. Network I/O only ever happens on the orchestrator's worker.
type Orchestrator struct {
	client   DecisionClient
	sensor   Sensor
	actuator Actuator
	detector HumanDetector
	cfg      config.AgentConfig
	logger   *zap.Logger
	mode     *ModeState
	now      func() time.Time

	inFlight atomic.Bool
	slot     IntentSlot
	jobs     chan job
	announce chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	// tickMu guards the tick-owned state below. It is never held across I/O.
	tickMu     sync.Mutex
	lastIntent schemas.IntentType
	lastResult schemas.ExecutionResult
	outcomes   outcomeTracker

	// commitMu orders mode-change resets against the points where a tick
	// commits to the generation it started with. No collaborator other than
	// ReleaseAllInputs is called while it is held.
	commitMu sync.Mutex

	failures       atomic.Int64
	degraded       atomic.Bool
	lastConfidence atomic.Uint64
	ticks          atomic.Uint64
	submitted      atomic.Uint64
	dropped        atomic.Uint64
	rejected       atomic.Uint64
	decided        atomic.Uint64
	failed         atomic.Uint64

	degradedLog rate.Sometimes
	failureLog  rate.Sometimes
	rejectLog   rate.Sometimes
	faultLog    rate.Sometimes
}

// New wires an orchestrator and starts its worker. Close must be called to
// stop it.
func New(
	client DecisionClient,
	sensor Sensor,
	actuator Actuator,
	detector HumanDetector,
	cfg config.AgentConfig,
	logger *zap.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("decision client cannot be nil")
	}
	if sensor == nil {
		return nil, errors.New("sensor cannot be nil")
	}
	if actuator == nil {
		return nil, errors.New("actuator cannot be nil")
	}
	if detector == nil {
		return nil, errors.New("human detector cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}

	o := &Orchestrator{
		client:     client,
		sensor:     sensor,
		actuator:   actuator,
		detector:   detector,
		cfg:        cfg,
		logger:     logger.Named("orchestrator").With(zap.String("agent_id", uuid.NewString()[:8])),
		now:        time.Now,
		jobs:       make(chan job, 1),
		announce:   make(chan struct{}, 1),
		lastIntent: schemas.IntentStop,
		lastResult: schemas.Succeeded(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.mode == nil {
		o.mode = NewModeState()
	}

	o.degradedLog = rate.Sometimes{Interval: cfg.WarnInterval}
	o.failureLog = rate.Sometimes{Interval: cfg.WarnInterval}
	o.rejectLog = rate.Sometimes{Interval: cfg.WarnInterval}
	o.faultLog = rate.Sometimes{Interval: cfg.WarnInterval}

	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.mode.OnChange(o.onModeChange)

	o.wg.Add(1)
	go o.work()

	o.logger.Info("Orchestrator started.",
		zap.Stringer("mode", o.mode.Get()),
		zap.Int("max_consecutive_failures", cfg.MaxConsecutiveFailures))
	return o, nil
}

// -- Mode control --

// Mode returns the current control mode.
func (o *Orchestrator) Mode() schemas.ControlMode { return o.mode.Get() }

// SetMode switches authority. Any pending decision is discarded.
func (o *Orchestrator) SetMode(mode schemas.ControlMode) { o.mode.Set(mode) }

// Toggle flips authority and returns the new mode.
func (o *Orchestrator) Toggle() schemas.ControlMode { return o.mode.Toggle() }

// onModeChange runs on every mutation of the shared mode flag.
func (o *Orchestrator) onModeChange(prev, next schemas.ControlMode) {
	func() {
		o.commitMu.Lock()
		defer o.commitMu.Unlock()
		o.slot.Clear()
		o.actuator.ReleaseAllInputs()
		o.failures.Store(0)
		o.degraded.Store(false)
	}()

	o.logger.Info("Control mode changed.", zap.Stringer("from", prev), zap.Stringer("to", next))
	o.announceMode()
}

// announceMode wakes the worker to report the control mode. Hooks of
// concurrent mutations may run out of order, so the worker reads the mode when
// it sends rather than trusting the value a hook saw.
func (o *Orchestrator) announceMode() {
	if o.closed.Load() {
		return
	}
	select {
	case o.announce <- struct{}{}:
	default:
	}
}

// current reports whether generation is still the live mode generation.
// commitMu must be held.
func (o *Orchestrator) current(generation uint64) bool {
	_, live := o.mode.Load()
	return live == generation
}

// -- Submission --

// Orchestrate submits one decision request built from the arguments. It never
// blocks: it returns false when a request is already in flight or the request
// fails validation, and true once the worker owns the request.
func (o *Orchestrator) Orchestrate(
	snapshot *schemas.StateSnapshot,
	intentTaken schemas.IntentType,
	mode schemas.ControlMode,
	result *schemas.ResultReport,
) bool {
	_, generation := o.mode.Load()
	return o.submit(snapshot, intentTaken, mode, result, generation)
}

// submit is Orchestrate for a caller that already holds a mode generation.
// The reply is only ever actuated under that generation.
func (o *Orchestrator) submit(
	snapshot *schemas.StateSnapshot,
	intentTaken schemas.IntentType,
	mode schemas.ControlMode,
	result *schemas.ResultReport,
	generation uint64,
) bool {
	if o.closed.Load() {
		return false
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		o.dropped.Add(1)
		return false
	}

	if intentTaken == "" {
		intentTaken = schemas.IntentStop
	}
	authority := schemas.AuthorityFor(mode)
	req := &schemas.DecisionRequest{
		ExperienceID:    uuid.NewString(),
		State:           snapshot,
		IntentTaken:     intentTaken,
		Controller:      mode,
		Authority:       authority,
		PolicyAuthority: schemas.PolicyAuthorityFor(mode),
		LastConfidence:  o.LastConfidence(),
		Result:          result,
		Lineage: &schemas.Lineage{
			Source:            schemas.LineageSource,
			TrustBoundary:     schemas.TrustBoundaryLocal,
			LearningAllowed:   true,
			DecisionAuthority: authority,
		},
		ProtocolVersion: schemas.ProtocolVersion,
	}

	if err := req.Validate(); err != nil {
		o.inFlight.Store(false)
		o.rejected.Add(1)
		o.rejectLog.Do(func() {
			o.logger.Warn("Decision request rejected before sending.", zap.Error(err))
		})
		return false
	}

	select {
	case o.jobs <- job{req: req, generation: generation}:
		o.submitted.Add(1)
		return true
	default:
		o.inFlight.Store(false)
		return false
	}
}

// work is the single background worker. It owns every exchange with the
// decision server.
func (o *Orchestrator) work() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case j := <-o.jobs:
			o.exchange(j)
		case <-o.announce:
			o.sendMode(o.mode.Get())
		}
	}
}

func (o *Orchestrator) exchange(j job) {
	defer o.inFlight.Store(false)
	defer func() {
		if p := recover(); p != nil {
			o.storeConfidence(0)
			o.failed.Add(1)
			o.logger.Error("Decision exchange panicked.", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
		}
	}()

	resp := o.client.NextIntent(o.ctx, j.req)
	if !resp.IsSuccess() {
		o.storeConfidence(0)
		o.failed.Add(1)
		o.failureLog.Do(func() {
			o.logger.Warn("Decision exchange failed; falling back to NO_OP.", zap.String("tag", resp.ErrorMessage))
		})
		return
	}

	o.storeConfidence(resp.Confidence)
	o.decided.Add(1)

	mode, generation := o.mode.Load()
	switch {
	case mode != schemas.ModeAI:
		// Shadow traffic; the reply is never actuated.
	case generation != j.generation:
		o.logger.Debug("Discarding decision made under a previous mode.", zap.Stringer("intent", resp.Intent))
	default:
		o.slot.Put(resp.Intent, generation)
	}
}

func (o *Orchestrator) sendMode(mode schemas.ControlMode) {
	if !o.client.SendControlMode(o.ctx, mode) {
		o.failureLog.Do(func() {
			o.logger.Warn("Decision server did not acknowledge the control mode.", zap.Stringer("mode", mode))
		})
	}
}

// -- Tick --

// HandleTick runs one tick and applies the fail-safe on error: control goes
// back to the operator before the error is returned.
func (o *Orchestrator) HandleTick(ctx context.Context) error {
	err := o.Tick(ctx)
	if err != nil && !errors.Is(err, ErrClosed) {
		o.FailSafe(err)
	}
	return err
}

// FailSafe forces HUMAN mode after an internal fault.
func (o *Orchestrator) FailSafe(cause error) {
	if o.mode.ForceHuman() {
		o.logger.Error("Tick failed; control returned to the operator.", zap.Error(cause))
		return
	}
	o.faultLog.Do(func() {
		o.logger.Warn("Tick failed in operator mode.", zap.Error(cause))
	})
}

// Tick advances the state machine by one step. It never blocks on the network.
// Panics raised by collaborators are returned as ErrTickPanicked.
func (o *Orchestrator) Tick(ctx context.Context) (err error) {
	if o.closed.Load() {
		return ErrClosed
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrTickPanicked, p)
		}
	}()

	o.tickMu.Lock()
	defer o.tickMu.Unlock()
	o.ticks.Add(1)

	mode, generation := o.mode.Load()
	if mode == schemas.ModeAI {
		return o.tickAI(ctx, generation)
	}
	return o.tickHuman(ctx, generation)
}

func (o *Orchestrator) tickAI(ctx context.Context, generation uint64) error {
	// Operator input must not leak into AI control.
	o.actuator.ReleaseAllInputs()

	obs, err := o.sensor.Observe(ctx)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	o.outcomes.observe(obs)

	snapshot := obs.Snapshot
	report := schemas.NewResultReport(o.lastResult, o.outcomes.outcomes(obs.Alive), o.now().UnixMilli())
	if o.submit(&snapshot, o.lastIntent, schemas.ModeAI, report, generation) {
		o.outcomes.consumed()
	}

	intent, fresh := o.slot.Take(generation)

	o.commitMu.Lock()
	if !o.current(generation) {
		o.commitMu.Unlock()
		o.logger.Debug("Control mode changed during the tick; nothing actuated.")
		return nil
	}
	var failures int64
	var left, entered bool
	if fresh {
		o.failures.Store(0)
		left = o.degraded.Swap(false)
	} else {
		intent = schemas.IntentNoOp
		failures = o.failures.Add(1)
		entered = o.degraded.CompareAndSwap(false, true)
	}
	o.commitMu.Unlock()

	switch {
	case left:
		o.logger.Info("Fresh decision received; leaving degraded mode.", zap.Stringer("intent", intent))
	case entered:
		o.degradedLog.Do(func() {
			o.logger.Warn("No fresh decision available; entering degraded mode.",
				zap.Int64("consecutive_failures", failures))
		})
	}

	result, err := o.actuator.Execute(ctx, intent)

	o.commitMu.Lock()
	defer o.commitMu.Unlock()
	stale := !o.current(generation)
	if stale {
		// The mode-change reset already ran; undo whatever this tick pressed.
		o.actuator.ReleaseAllInputs()
	}
	if err != nil {
		return fmt.Errorf("execute %s: %w", intent, err)
	}
	if stale {
		o.logger.Debug("Control mode changed while actuating; inputs released.", zap.Stringer("intent", intent))
		return nil
	}
	o.lastIntent = intent
	o.lastResult = result
	return nil
}

func (o *Orchestrator) tickHuman(ctx context.Context, generation uint64) error {
	// Anything still queued belongs to a previous AI session.
	o.slot.Clear()

	obs, err := o.sensor.Observe(ctx)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	o.outcomes.observe(obs)

	intent := o.detector.Detect()
	snapshot := obs.Snapshot
	report := schemas.NewResultReport(schemas.Succeeded(), o.outcomes.outcomes(obs.Alive), o.now().UnixMilli())
	if o.submit(&snapshot, intent, schemas.ModeHuman, report, generation) {
		o.outcomes.consumed()
	}

	o.commitMu.Lock()
	defer o.commitMu.Unlock()
	if !o.current(generation) {
		return nil
	}
	o.lastIntent = intent
	o.lastResult = schemas.Succeeded()
	return nil
}

// Reset clears per-actor state after a respawn or world change.
func (o *Orchestrator) Reset() {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	o.outcomes.reset()
	o.lastIntent = schemas.IntentStop
	o.lastResult = schemas.Succeeded()
	o.slot.Clear()
	o.failures.Store(0)
	o.degraded.Store(false)
	o.logger.Debug("Orchestrator state reset.")
}

// -- Introspection --

// Degraded reports whether the AI path is currently falling back to NO_OP.
func (o *Orchestrator) Degraded() bool { return o.degraded.Load() }

// ConsecutiveFailures is the number of AI ticks in a row without a fresh decision.
func (o *Orchestrator) ConsecutiveFailures() int { return int(o.failures.Load()) }

// LastConfidence is the confidence of the latest exchange, 0 after a failure.
func (o *Orchestrator) LastConfidence() float64 {
	return math.Float64frombits(o.lastConfidence.Load())
}

func (o *Orchestrator) storeConfidence(c float64) {
	o.lastConfidence.Store(math.Float64bits(c))
}

// Stats returns a snapshot of the orchestrator's counters.
func (o *Orchestrator) Stats() Stats {
	o.tickMu.Lock()
	lastIntent := o.lastIntent
	o.tickMu.Unlock()

	return Stats{
		Mode:                   o.mode.Get(),
		Degraded:               o.degraded.Load(),
		ConsecutiveFailures:    int(o.failures.Load()),
		MaxConsecutiveFailures: o.cfg.MaxConsecutiveFailures,
		LastIntent:             lastIntent,
		LastConfidence:         o.LastConfidence(),
		InFlight:               o.inFlight.Load(),
		Pending:                o.slot.Pending(),
		Ticks:                  o.ticks.Load(),
		Submitted:              o.submitted.Load(),
		Dropped:                o.dropped.Load(),
		Rejected:               o.rejected.Load(),
		Decided:                o.decided.Load(),
		Failed:                 o.failed.Load(),
	}
}

// Close stops the worker, aborting any exchange in flight, releases every
// held input and closes the client when it is an io.Closer.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		o.cancel()
		o.wg.Wait()

		o.tickMu.Lock()
		o.actuator.ReleaseAllInputs()
		o.tickMu.Unlock()

		if c, ok := o.client.(io.Closer); ok {
			err = c.Close()
		}
		o.logger.Info("Orchestrator stopped.")
	})
	return err
}
