// internal/agent/orchestrator_test.go
package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
	"github.com/xkilldash9x/ctlbridge/internal/config"
)

// -- Test Helpers --

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{MaxConsecutiveFailures: 5, WarnInterval: time.Second}
}

type harness struct {
	o      *Orchestrator
	sensor *fakeSensor
	act    *fakeActuator
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T, client DecisionClient, opts ...Option) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{sensor: newFakeSensor(), act: newFakeActuator(), logs: logs}

	o, err := New(client, h.sensor, h.act, fakeDetector{intent: schemas.IntentJump}, testAgentConfig(), zap.New(core), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	h.o = o
	return h
}

// waitIdle blocks until no exchange is in flight.
func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool { return !o.Stats().InFlight }, 2*time.Second, time.Millisecond)
}

func validSnapshot() *schemas.StateSnapshot {
	s := observation(20).Snapshot
	return &s
}

func okReport() *schemas.ResultReport {
	return schemas.NewResultReport(schemas.Succeeded(), schemas.Outcomes{IsAlive: true}, 0)
}

// -- Construction --

func TestNew_Validation(t *testing.T) {
	logger := zap.NewNop()
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 1))
	s, a, d := newFakeSensor(), newFakeActuator(), fakeDetector{}

	testCases := []struct {
		name    string
		build   func() (*Orchestrator, error)
		wantErr string
	}{
		{"nil client", func() (*Orchestrator, error) { return New(nil, s, a, d, testAgentConfig(), logger) }, "decision client cannot be nil"},
		{"nil sensor", func() (*Orchestrator, error) { return New(client, nil, a, d, testAgentConfig(), logger) }, "sensor cannot be nil"},
		{"nil actuator", func() (*Orchestrator, error) { return New(client, s, nil, d, testAgentConfig(), logger) }, "actuator cannot be nil"},
		{"nil detector", func() (*Orchestrator, error) { return New(client, s, a, nil, testAgentConfig(), logger) }, "human detector cannot be nil"},
		{"nil logger", func() (*Orchestrator, error) { return New(client, s, a, d, testAgentConfig(), nil) }, "logger cannot be nil"},
		{"bad config", func() (*Orchestrator, error) {
			return New(client, s, a, d, config.AgentConfig{WarnInterval: time.Second}, logger)
		}, "max_consecutive_failures must be greater than 0"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o, err := tc.build()
			require.Error(t, err)
			assert.Nil(t, o)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

// -- Submission --

func TestOrchestrate_DoesNotBlockOnSlowServer(t *testing.T) {
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 1))
	client.delay = time.Second
	h := newHarness(t, client)

	start := time.Now()
	ok := h.o.Orchestrate(validSnapshot(), schemas.IntentStop, schemas.ModeHuman, okReport())
	elapsed := time.Since(start)

	assert.True(t, ok)
	assert.Less(t, elapsed, 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, h.o.Tick(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "a tick never waits for the server")
}

func TestOrchestrate_SingleFlight(t *testing.T) {
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 1))
	client.gate = make(chan struct{})
	h := newHarness(t, client)

	require.True(t, h.o.Orchestrate(validSnapshot(), schemas.IntentStop, schemas.ModeHuman, okReport()))
	assert.False(t, h.o.Orchestrate(validSnapshot(), schemas.IntentStop, schemas.ModeHuman, okReport()))
	assert.Equal(t, uint64(1), h.o.Stats().Dropped)

	close(client.gate)
	waitIdle(t, h.o)

	assert.True(t, h.o.Orchestrate(validSnapshot(), schemas.IntentStop, schemas.ModeHuman, okReport()))
	waitIdle(t, h.o)
	assert.Len(t, client.Requests(), 2)
}

func TestOrchestrate_RejectsInvalidRequests(t *testing.T) {
	mc := new(mockClient)
	h := newHarness(t, mc)

	negative := validSnapshot()
	negative.Health = -0.5

	assert.False(t, h.o.Orchestrate(negative, schemas.IntentStop, schemas.ModeAI, okReport()))
	assert.False(t, h.o.Orchestrate(nil, schemas.IntentStop, schemas.ModeAI, okReport()))
	assert.False(t, h.o.Orchestrate(validSnapshot(), schemas.IntentStop, "", okReport()))

	stats := h.o.Stats()
	assert.Equal(t, uint64(3), stats.Rejected)
	assert.Zero(t, stats.Submitted)
	assert.False(t, stats.InFlight, "a rejected request releases the in-flight flag")
	assert.Equal(t, 1, h.logs.FilterMessage("Decision request rejected before sending.").Len())
	mc.AssertNotCalled(t, "NextIntent", mock.Anything, mock.Anything)
}

func TestOrchestrate_BuildsLineage(t *testing.T) {
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 0.4))
	h := newHarness(t, client)

	require.True(t, h.o.Orchestrate(validSnapshot(), "", schemas.ModeAI, okReport()))
	waitIdle(t, h.o)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.NotEmpty(t, req.ExperienceID)
	assert.Equal(t, schemas.IntentStop, req.IntentTaken, "an empty intent is reported as STOP")
	assert.Equal(t, schemas.ModeAI, req.Controller)
	assert.Equal(t, schemas.AuthorityAuthoritative, req.Authority)
	assert.Equal(t, schemas.PolicyActiveLearning, req.PolicyAuthority)
	assert.Equal(t, schemas.ProtocolVersion, req.ProtocolVersion)
	require.NotNil(t, req.Lineage)
	assert.Equal(t, schemas.LineageSource, req.Lineage.Source)
	assert.Equal(t, schemas.TrustBoundaryLocal, req.Lineage.TrustBoundary)
	assert.True(t, req.Lineage.LearningAllowed)
	assert.Equal(t, schemas.AuthorityAuthoritative, req.Lineage.DecisionAuthority)

	assert.Equal(t, 0.4, h.o.LastConfidence())
	require.True(t, h.o.Orchestrate(validSnapshot(), schemas.IntentStop, schemas.ModeAI, okReport()))
	waitIdle(t, h.o)
	assert.Equal(t, 0.4, client.Requests()[1].LastConfidence)
}

// -- AI Tick --

func TestTick_AIActuatesFreshDecision(t *testing.T) {
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 0.9))
	client.gate = make(chan struct{})
	h := newHarness(t, client)
	h.o.SetMode(schemas.ModeAI)

	require.NoError(t, h.o.Tick(context.Background()))
	assert.Equal(t, []schemas.IntentType{schemas.IntentNoOp}, h.act.Executed(), "nothing decided yet")
	assert.True(t, h.o.Degraded())
	assert.Equal(t, 1, h.o.ConsecutiveFailures())

	close(client.gate)
	waitIdle(t, h.o)
	require.True(t, h.o.Stats().Pending)

	require.NoError(t, h.o.Tick(context.Background()))
	assert.Equal(t, []schemas.IntentType{schemas.IntentNoOp, schemas.IntentMove}, h.act.Executed())
	assert.False(t, h.o.Degraded())
	assert.Zero(t, h.o.ConsecutiveFailures())
	assert.Equal(t, 0.9, h.o.LastConfidence())
	assert.Equal(t, 1, h.logs.FilterMessage("Fresh decision received; leaving degraded mode.").Len())

	reqs := client.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, schemas.ModeAI, reqs[0].Controller)
	assert.Equal(t, schemas.IntentStop, reqs[0].IntentTaken)
}

func TestTick_AIReportsPreviousIntent(t *testing.T) {
	client := newFakeClient(schemas.Failure("EMPTY_RESPONSE"))
	h := newHarness(t, client)
	h.o.SetMode(schemas.ModeAI)

	require.NoError(t, h.o.Tick(context.Background()))
	waitIdle(t, h.o)
	require.NoError(t, h.o.Tick(context.Background()))
	waitIdle(t, h.o)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, schemas.IntentNoOp, reqs[1].IntentTaken)
	assert.Equal(t, schemas.StatusSuccess, reqs[1].Result.Status)
}

func TestTick_DegradedWarnsOnce(t *testing.T) {
	client := newFakeClient(schemas.Failure("EMPTY_RESPONSE"))
	h := newHarness(t, client)
	h.o.SetMode(schemas.ModeAI)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.o.Tick(context.Background()))
		waitIdle(t, h.o)
	}

	for _, intent := range h.act.Executed() {
		assert.Equal(t, schemas.IntentNoOp, intent)
	}
	assert.True(t, h.o.Degraded())
	assert.Equal(t, 5, h.o.ConsecutiveFailures())
	assert.Zero(t, h.o.LastConfidence())
	assert.Equal(t, 1, h.logs.FilterMessage("No fresh decision available; entering degraded mode.").Len())

	stats := h.o.Stats()
	assert.Equal(t, uint64(5), stats.Failed)
	assert.Equal(t, 5, stats.MaxConsecutiveFailures)
}

// -- Mode Changes --

func TestModeChange_ClearsPendingDecision(t *testing.T) {
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 1))
	client.gate = make(chan struct{})
	h := newHarness(t, client)
	h.o.SetMode(schemas.ModeAI)

	require.NoError(t, h.o.Tick(context.Background()))
	close(client.gate)
	waitIdle(t, h.o)
	require.True(t, h.o.Stats().Pending)
	releases := h.act.Releases()

	h.o.SetMode(schemas.ModeHuman)
	assert.False(t, h.o.Stats().Pending)
	assert.Greater(t, h.act.Releases(), releases)
	assert.False(t, h.o.Degraded())
	assert.Zero(t, h.o.ConsecutiveFailures())
}

func TestModeChange_DiscardsDecisionFromPreviousMode(t *testing.T) {
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 1))
	client.gate = make(chan struct{})
	h := newHarness(t, client)
	h.o.SetMode(schemas.ModeAI)

	require.NoError(t, h.o.Tick(context.Background()))
	h.o.SetMode(schemas.ModeHuman)
	h.o.SetMode(schemas.ModeAI)

	close(client.gate)
	waitIdle(t, h.o)
	assert.False(t, h.o.Stats().Pending, "the reply was decided under a previous mode")
	assert.Equal(t, uint64(1), h.o.Stats().Decided)
	assert.Equal(t, []schemas.IntentType{schemas.IntentNoOp}, h.act.Executed())
}

func TestModeChange_AnnouncesControlMode(t *testing.T) {
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 1))
	h := newHarness(t, client)

	h.o.SetMode(schemas.ModeAI)
	require.Eventually(t, func() bool { return len(client.Modes()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, schemas.ModeAI, client.Modes()[0])

	assert.Equal(t, schemas.ModeHuman, h.o.Toggle())
	require.Eventually(t, func() bool {
		modes := client.Modes()
		return len(modes) == 2 && modes[1] == schemas.ModeHuman
	}, time.Second, time.Millisecond)
}

func TestModeChange_DuringActuationReleasesInputs(t *testing.T) {
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 1))
	client.gate = make(chan struct{})
	h := newHarness(t, client)
	h.o.SetMode(schemas.ModeAI)

	require.NoError(t, h.o.Tick(context.Background()))
	close(client.gate)
	waitIdle(t, h.o)
	require.True(t, h.o.Stats().Pending)

	// The operator takes over after MOVE was drained but before it is applied.
	var once sync.Once
	h.act.onExecute(func(intent schemas.IntentType) {
		if intent == schemas.IntentMove {
			once.Do(func() { h.o.SetMode(schemas.ModeHuman) })
		}
	})

	require.NoError(t, h.o.Tick(context.Background()))
	assert.Equal(t, schemas.ModeHuman, h.o.Mode())
	assert.Empty(t, h.act.Held(), "no AI input may outlive the switch")
	assert.Equal(t, schemas.IntentNoOp, h.o.Stats().LastIntent)
	assert.False(t, h.o.Degraded())
	assert.Zero(t, h.o.ConsecutiveFailures())

	waitIdle(t, h.o)
	require.NoError(t, h.o.Tick(context.Background()))
	assert.Empty(t, h.act.Held())
	assert.Equal(t, schemas.IntentJump, h.o.Stats().LastIntent)
}

func TestModeChange_DuringObserveKeepsResetState(t *testing.T) {
	client := newFakeClient(schemas.Failure("EMPTY_RESPONSE"))
	h := newHarness(t, client)
	h.o.SetMode(schemas.ModeAI)

	var once sync.Once
	h.sensor.onObserve(func() {
		once.Do(func() { h.o.SetMode(schemas.ModeHuman) })
	})

	require.NoError(t, h.o.Tick(context.Background()))
	waitIdle(t, h.o)

	assert.Equal(t, schemas.ModeHuman, h.o.Mode())
	assert.False(t, h.o.Degraded())
	assert.Zero(t, h.o.ConsecutiveFailures())
	assert.Empty(t, h.act.Executed())
	assert.Zero(t, h.logs.FilterMessage("No fresh decision available; entering degraded mode.").Len())
}

func TestModeChange_AnnouncesModeAtSendTime(t *testing.T) {
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 1))
	h := newHarness(t, client)

	// A hook that lost the race still carries the mode it saw.
	h.o.onModeChange(schemas.ModeHuman, schemas.ModeAI)

	require.Eventually(t, func() bool { return len(client.Modes()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, schemas.ModeHuman, client.Modes()[0])
}

// -- Human Tick --

func TestTick_HumanIsShadowTraffic(t *testing.T) {
	mc := new(mockClient)
	mc.On("NextIntent", mock.Anything, mock.MatchedBy(func(req *schemas.DecisionRequest) bool {
		return req.IntentTaken == schemas.IntentJump &&
			req.Controller == schemas.ModeHuman &&
			req.Authority == schemas.AuthorityAdvisory &&
			req.PolicyAuthority == schemas.PolicyShadowLearning &&
			req.Lineage.DecisionAuthority == schemas.AuthorityAdvisory
	})).Return(schemas.Decided(schemas.IntentPrimaryAttack, 1)).Once()
	h := newHarness(t, mc)

	require.NoError(t, h.o.Tick(context.Background()))
	waitIdle(t, h.o)

	mc.AssertExpectations(t)
	assert.Empty(t, h.act.Executed(), "human ticks never actuate")
	assert.False(t, h.o.Stats().Pending, "shadow replies are never queued")
	assert.Equal(t, schemas.IntentJump, h.o.Stats().LastIntent)
}

func TestTick_OutcomesReportedOnce(t *testing.T) {
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 1))
	fixed := time.UnixMilli(1700000000000)
	h := newHarness(t, client, WithClock(func() time.Time { return fixed }))

	for _, health := range []float64{20, 15, 15} {
		h.sensor.set(observation(health))
		require.NoError(t, h.o.Tick(context.Background()))
		waitIdle(t, h.o)
	}

	reqs := client.Requests()
	require.Len(t, reqs, 3)
	assert.Zero(t, reqs[0].Result.Outcomes.DamageReceived)
	assert.Equal(t, 5.0, reqs[1].Result.Outcomes.DamageReceived)
	assert.Zero(t, reqs[2].Result.Outcomes.DamageReceived, "damage is reported with one request only")
	assert.Equal(t, int64(1700000000000), reqs[2].Result.Metadata.EngineTimestamp)
	assert.True(t, reqs[2].Result.Outcomes.IsAlive)
}

// -- Fail-safe --

func TestHandleTick_FailSafeOnSensorError(t *testing.T) {
	h := newHarness(t, newFakeClient(schemas.Decided(schemas.IntentMove, 1)))
	h.o.SetMode(schemas.ModeAI)
	h.sensor.fail(errors.New("actor unavailable"))

	err := h.o.HandleTick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actor unavailable")
	assert.Equal(t, schemas.ModeHuman, h.o.Mode())
	assert.Equal(t, 1, h.logs.FilterMessage("Tick failed; control returned to the operator.").Len())

	require.Error(t, h.o.HandleTick(context.Background()))
	assert.Equal(t, schemas.ModeHuman, h.o.Mode())
	assert.Equal(t, 1, h.logs.FilterMessage("Tick failed in operator mode.").Len())
}

func TestHandleTick_FailSafeOnPanic(t *testing.T) {
	h := newHarness(t, newFakeClient(schemas.Decided(schemas.IntentMove, 1)))
	h.o.SetMode(schemas.ModeAI)
	h.sensor.explode("nil actor")

	err := h.o.HandleTick(context.Background())
	assert.ErrorIs(t, err, ErrTickPanicked)
	assert.Equal(t, schemas.ModeHuman, h.o.Mode())
}

func TestExchange_PanicIsContained(t *testing.T) {
	mc := new(mockClient)
	mc.On("NextIntent", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("decoder exploded")
	}).Return(schemas.Response{})
	h := newHarness(t, mc)

	require.True(t, h.o.Orchestrate(validSnapshot(), schemas.IntentStop, schemas.ModeHuman, okReport()))
	waitIdle(t, h.o)

	assert.Equal(t, uint64(1), h.o.Stats().Failed)
	assert.Equal(t, 1, h.logs.FilterMessage("Decision exchange panicked.").Len())
}

// -- Lifecycle --

func TestReset(t *testing.T) {
	h := newHarness(t, newFakeClient(schemas.Failure("EMPTY_RESPONSE")))
	h.o.SetMode(schemas.ModeAI)
	require.NoError(t, h.o.Tick(context.Background()))
	waitIdle(t, h.o)
	require.True(t, h.o.Degraded())

	h.o.Reset()

	stats := h.o.Stats()
	assert.False(t, stats.Degraded)
	assert.Zero(t, stats.ConsecutiveFailures)
	assert.Equal(t, schemas.IntentStop, stats.LastIntent)
	assert.Equal(t, schemas.ModeAI, stats.Mode, "reset keeps the current mode")
}

func TestClose(t *testing.T) {
	client := newFakeClient(schemas.Decided(schemas.IntentMove, 1))
	h := newHarness(t, client)
	h.o.SetMode(schemas.ModeAI)

	require.NoError(t, h.o.Close())
	assert.True(t, client.Closed())
	assert.NoError(t, h.o.Close(), "close is idempotent")

	assert.ErrorIs(t, h.o.HandleTick(context.Background()), ErrClosed)
	assert.Equal(t, schemas.ModeAI, h.o.Mode(), "a closed orchestrator does not trip the fail-safe")
	assert.False(t, h.o.Orchestrate(validSnapshot(), schemas.IntentStop, schemas.ModeAI, okReport()))
}

func TestWithModeState_SharesFlag(t *testing.T) {
	shared := NewModeState()
	h := newHarness(t, newFakeClient(schemas.Decided(schemas.IntentMove, 1)), WithModeState(shared))

	shared.Set(schemas.ModeAI)
	assert.Equal(t, schemas.ModeAI, h.o.Mode())
}
