package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/irpa-agent/internal/envelope"
)

type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
	at     []time.Time
	fail   error
}

func (s *recordingSender) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.frames = append(s.frames, frame)
	s.at = append(s.at, time.Now())
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type countingObserver struct {
	mu       sync.Mutex
	ok, fail int
}

func (o *countingObserver) ObserveHeartbeat(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.fail++
	} else {
		o.ok++
	}
}

func run(t *testing.T, e *Emitter, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, e.Run(ctx))
}

func TestEmitter_Cadence(t *testing.T) {
	defer goleak.VerifyNone(t)

	const (
		period = 40 * time.Millisecond
		total  = 410 * time.Millisecond
	)
	sender := &recordingSender{}
	e := New(zaptest.NewLogger(t), "agent_1", Config{Delay: 0, Interval: period}, sender, nil)

	start := time.Now()
	run(t, e, total)

	want := int(total / period)
	got := sender.count()
	assert.InDelta(t, want, got, 1.5, "expected floor(T/P) +/- 1 heartbeats, got %d", got)
	require.NotEmpty(t, sender.at)
	assert.Less(t, sender.at[0].Sub(start), period, "first beat must come after the short startup delay")
}

func TestEmitter_FirstBeatAfterDelay(t *testing.T) {
	sender := &recordingSender{}
	e := New(zaptest.NewLogger(t), "agent_1", Config{Delay: 30 * time.Millisecond, Interval: time.Hour}, sender, nil)

	start := time.Now()
	run(t, e, 100*time.Millisecond)

	require.Equal(t, 1, sender.count())
	assert.GreaterOrEqual(t, sender.at[0].Sub(start), 30*time.Millisecond)
}

func TestEmitter_FrameShape(t *testing.T) {
	sender := &recordingSender{}
	e := New(zaptest.NewLogger(t), "agent_abc", Config{Interval: time.Hour}, sender, nil)
	run(t, e, 20*time.Millisecond)

	require.Equal(t, 1, sender.count())
	env, err := envelope.Decode(sender.frames[0])
	require.NoError(t, err)
	assert.Equal(t, envelope.TypeHeartbeat, env.Type)
	assert.NotEmpty(t, env.UUID)
	assert.Equal(t, map[string]any{"agent": "agent_abc", "status": "on"}, env.Message)
	assert.Contains(t, string(sender.frames[0]), `"type":"hearbeat"`)
}

func TestEmitter_FailuresAreLoggedNotFatal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sender := &recordingSender{fail: errors.New("socket down")}
	obs := &countingObserver{}
	e := New(zap.New(core), "agent_1", Config{Interval: 20 * time.Millisecond}, sender, obs)

	run(t, e, 110*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.GreaterOrEqual(t, obs.fail, 3, "the emitter must keep beating after a failure")
	assert.Zero(t, obs.ok)
	assert.GreaterOrEqual(t, logs.FilterMessage("Heartbeat failed.").Len(), 3)
}
