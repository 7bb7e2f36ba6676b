package agent

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
)

// -- Decision Clients --

// fakeClient answers every request with reply after delay. When gate is set
// it also waits for gate to be closed. Every wait honours ctx.
type fakeClient struct {
	mu       sync.Mutex
	reply    schemas.Response
	delay    time.Duration
	gate     chan struct{}
	requests []*schemas.DecisionRequest
	modes    []schemas.ControlMode
	closed   bool
}

func newFakeClient(reply schemas.Response) *fakeClient {
	return &fakeClient{reply: reply}
}

func (c *fakeClient) NextIntent(ctx context.Context, req *schemas.DecisionRequest) schemas.Response {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	reply, delay, gate := c.reply, c.delay, c.gate
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return schemas.Failure("COMMUNICATION_FAILURE: " + ctx.Err().Error())
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return schemas.Failure("COMMUNICATION_FAILURE: " + ctx.Err().Error())
		}
	}
	return reply
}

func (c *fakeClient) SendControlMode(ctx context.Context, mode schemas.ControlMode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes = append(c.modes, mode)
	return true
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) setReply(r schemas.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply = r
}

func (c *fakeClient) Requests() []*schemas.DecisionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*schemas.DecisionRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

func (c *fakeClient) Modes() []schemas.ControlMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schemas.ControlMode, len(c.modes))
	copy(out, c.modes)
	return out
}

func (c *fakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// mockClient is a testify mock for expectation-style tests.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) NextIntent(ctx context.Context, req *schemas.DecisionRequest) schemas.Response {
	args := m.Called(ctx, req)
	return args.Get(0).(schemas.Response)
}

func (m *mockClient) SendControlMode(ctx context.Context, mode schemas.ControlMode) bool {
	args := m.Called(ctx, mode)
	return args.Bool(0)
}

// -- World --

type fakeSensor struct {
	mu    sync.Mutex
	obs   schemas.Observation
	err   error
	panic any
	// during runs inside Observe, before the observation is returned.
	during func()
}

func newFakeSensor() *fakeSensor {
	return &fakeSensor{obs: observation(20)}
}

func observation(health float64) schemas.Observation {
	return schemas.Observation{
		Snapshot: schemas.StateSnapshot{
			StateVersion:   schemas.StateVersion,
			Health:         health / 20,
			Energy:         1,
			TargetID:       schemas.NoTargetID,
			TargetDistance: schemas.NoTargetDistance,
		},
		Health: health,
		Alive:  health > 0,
	}
}

func (s *fakeSensor) Observe(context.Context) (schemas.Observation, error) {
	s.mu.Lock()
	during := s.during
	s.mu.Unlock()
	if during != nil {
		during()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panic != nil {
		panic(s.panic)
	}
	return s.obs, s.err
}

func (s *fakeSensor) onObserve(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.during = f
}

func (s *fakeSensor) set(obs schemas.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = obs
}

func (s *fakeSensor) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSensor) explode(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panic = v
}

// fakeActuator records executed intents. Every intent other than NO_OP counts
// as held input until the next release.
type fakeActuator struct {
	mu       sync.Mutex
	executed []schemas.IntentType
	held     []schemas.IntentType
	result   schemas.ExecutionResult
	releases int
	// before runs inside Execute, before the intent is applied.
	before func(schemas.IntentType)
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{result: schemas.Succeeded()}
}

func (a *fakeActuator) Execute(_ context.Context, intent schemas.IntentType) (schemas.ExecutionResult, error) {
	a.mu.Lock()
	before := a.before
	a.mu.Unlock()
	if before != nil {
		before(intent)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.executed = append(a.executed, intent)
	if intent != schemas.IntentNoOp {
		a.held = append(a.held, intent)
	}
	return a.result, nil
}

func (a *fakeActuator) ReleaseAllInputs() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releases++
	a.held = nil
}

func (a *fakeActuator) onExecute(f func(schemas.IntentType)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.before = f
}

func (a *fakeActuator) Held() []schemas.IntentType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]schemas.IntentType, len(a.held))
	copy(out, a.held)
	return out
}

func (a *fakeActuator) Executed() []schemas.IntentType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]schemas.IntentType, len(a.executed))
	copy(out, a.executed)
	return out
}

func (a *fakeActuator) Releases() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releases
}

type fakeDetector struct {
	intent schemas.IntentType
}

func (d fakeDetector) Detect() schemas.IntentType { return d.intent }
