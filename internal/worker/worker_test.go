package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/registration-service/internal/dispatch"
	"github.com/spec-kit/registration-service/internal/domain"
	"github.com/spec-kit/registration-service/internal/events"
)

type countingRunner struct {
	mu    sync.Mutex
	calls int
	cfgs  []dispatch.Config
	err   error
	ran   chan struct{}
}

func (r *countingRunner) Run(ctx context.Context, cfg dispatch.Config) (*dispatch.Report, error) {
	r.mu.Lock()
	r.calls++
	r.cfgs = append(r.cfgs, cfg)
	r.mu.Unlock()
	if r.ran != nil {
		select {
		case r.ran <- struct{}{}:
		default:
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &dispatch.Report{OK: true, Mode: cfg.Mode}, nil
}

func TestRunOnceReturnsReport(t *testing.T) {
	runner := &countingRunner{}
	cfg := dispatch.Config{Mode: dispatch.ModeCapped, CapMaxPerRun: 5, ClaimTTL: time.Minute}
	w := NewDispatchWorker(runner, cfg, time.Minute, time.Second, zap.NewNop())

	report := w.RunOnce(context.Background())
	require.NotNil(t, report)
	assert.Equal(t, dispatch.ModeCapped, report.Mode)
	assert.Equal(t, []dispatch.Config{cfg}, runner.cfgs)
}

func TestRunOnceSwallowsErrors(t *testing.T) {
	runner := &countingRunner{err: errors.New("db down")}
	w := NewDispatchWorker(runner, dispatch.Config{Mode: dispatch.ModeFull}, time.Minute, 0, nil)

	assert.Nil(t, w.RunOnce(context.Background()))
	assert.Equal(t, 1, runner.calls)
}

func TestStartRunsOnEachTickUntilCancelled(t *testing.T) {
	runner := &countingRunner{ran: make(chan struct{}, 1)}
	w := NewDispatchWorker(runner, dispatch.Config{Mode: dispatch.ModeDryRun}, 5*time.Millisecond, 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-runner.ran:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not run")
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.GreaterOrEqual(t, runner.calls, 2)
}

func TestStartDisabledWithoutInterval(t *testing.T) {
	runner := &countingRunner{}
	w := NewDispatchWorker(runner, dispatch.Config{}, 0, 0, nil)

	w.Start(context.Background())
	assert.Zero(t, runner.calls)
}

type eventCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *eventCounter) RecordReviewEvent(eventType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[eventType]++
}

func TestSubscribeReviewEventsCountsEveryType(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	counter := &eventCounter{counts: map[string]int{}}
	SubscribeReviewEvents(dispatcher, counter, zap.NewNop())

	for _, eventType := range events.AllEventTypes {
		require.NoError(t, dispatcher.Publish(context.Background(), events.Event{
			Type:           eventType,
			RegistrationID: "reg-1",
			Dimension:      domain.DimensionPayment,
			Status:         domain.StatusWaitingForReview,
		}))
	}

	for _, eventType := range events.AllEventTypes {
		assert.Equal(t, 1, counter.counts[string(eventType)], eventType)
	}
}
