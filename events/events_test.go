package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the events it handles and fails with err when set.
type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Handle(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recorder) received() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// lockedBuffer is a bytes.Buffer safe for the bus goroutine and the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSubscriptions(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	started, ended := &recorder{}, &recorder{}
	assert.False(t, eb.HasSubscribers(TypeExecutionStarted))

	eb.Subscribe(TypeExecutionStarted, started)
	eb.Subscribe(TypeExecutionStarted, ended)
	eb.Subscribe(TypeExecutionEnded, ended)
	assert.True(t, eb.HasSubscribers(TypeExecutionStarted))
	assert.True(t, eb.HasSubscribers(TypeExecutionEnded))
	assert.False(t, eb.HasSubscribers(TypeNodeExecuted))

	tests := []struct {
		name      string
		eventType string
		handler   EventHandler
		removed   bool
		remaining bool
	}{
		{"one of two", TypeExecutionStarted, started, true, true},
		{"already removed", TypeExecutionStarted, started, false, true},
		{"never subscribed", TypeNodeExecuted, started, false, false},
		{"unknown handler", TypeExecutionEnded, &recorder{}, false, true},
		{"last handler", TypeExecutionEnded, ended, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.removed, eb.Unsubscribe(tt.eventType, tt.handler))
			assert.Equal(t, tt.remaining, eb.HasSubscribers(tt.eventType))
		})
	}
}

func TestPublishDeliversToEveryHandler(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	first, second := &recorder{}, &recorder{}
	eb.Subscribe(TypeExecutionSuspended, first)
	eb.Subscribe(TypeExecutionSuspended, second)

	event := NewEvent(TypeExecutionSuspended, 42, "Approval")
	event.Data = map[string]interface{}{"waiting_for": 2}
	require.NoError(t, eb.Publish(context.Background(), event))

	for _, r := range []*recorder{first, second} {
		require.Eventually(t, func() bool { return len(r.received()) == 1 }, time.Second, 5*time.Millisecond)
		got := r.received()[0]
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, uint64(42), got.ExecutionID)
		assert.Equal(t, "Approval", got.Workflow)
		assert.Equal(t, 2, got.Data["waiting_for"])
	}
}

func TestPublishErrors(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		stop    bool
		want    error
		subType string
	}{
		{"no handlers", context.Background(), false, ErrNoHandler, TypeExecutionEnded},
		{"closed bus", context.Background(), true, ErrBusClosed, TypeExecutionStarted},
		{"cancelled context", cancelled, false, context.Canceled, TypeExecutionStarted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eb := NewEventBus()
			defer eb.Stop()
			eb.Subscribe(tt.subType, &recorder{})
			if tt.stop {
				eb.Stop()
			}

			err := eb.Publish(tt.ctx, NewEvent(TypeExecutionStarted, 1, "StartEnd"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPublishFullChannel(t *testing.T) {
	eb := NewEventBus(WithBufferSize(1))
	release := make(chan struct{})
	handling := make(chan struct{}, 1)
	eb.SubscribeFunc(TypeNodeExecuted, func(context.Context, Event) error {
		handling <- struct{}{}
		<-release
		return nil
	})
	defer func() {
		close(release)
		eb.Stop()
	}()

	ctx := context.Background()
	require.NoError(t, eb.Publish(ctx, NewEvent(TypeNodeExecuted, 1, "Loop")))
	<-handling

	require.NoError(t, eb.Publish(ctx, NewEvent(TypeNodeExecuted, 1, "Loop")))
	assert.ErrorIs(t, eb.Publish(ctx, NewEvent(TypeNodeExecuted, 1, "Loop")), ErrChannelFull)
}

func TestPublishSync(t *testing.T) {
	ctx := context.Background()
	failure := errors.New("checkpoint rejected")

	eb := NewEventBus()
	defer eb.Stop()
	ok, failing := &recorder{}, &recorder{err: failure}
	eb.Subscribe(TypeExecutionCancelled, ok)
	eb.Subscribe(TypeExecutionCancelled, failing)

	errs := eb.PublishSync(ctx, NewEvent(TypeExecutionCancelled, 5, "Approval"))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], failure)
	// handlers have run by the time PublishSync returns
	assert.Len(t, ok.received(), 1)
	assert.Len(t, failing.received(), 1)

	assert.Equal(t, []error{ErrNoHandler}, eb.PublishSync(ctx, NewEvent(TypeThreadEnded, 5, "Approval")))

	eb.Stop()
	assert.Equal(t, []error{ErrBusClosed}, eb.PublishSync(ctx, NewEvent(TypeExecutionCancelled, 5, "Approval")))
}

func TestHandlerErrorsAreLogged(t *testing.T) {
	var out lockedBuffer
	logger := slog.New(slog.NewJSONHandler(&out, nil))

	eb := NewEventBus(WithLogger(logger), WithBufferSize(10))
	defer eb.Stop()
	eb.Subscribe(TypeExecutionEnded, &recorder{err: errors.New("subscriber down")})

	event := NewEvent(TypeExecutionEnded, 9, "Approval")
	require.NoError(t, eb.Publish(context.Background(), event))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "event handler failed")
	}, time.Second, 5*time.Millisecond)
	logged := out.String()
	assert.Contains(t, logged, `"event_id":"`+event.ID+`"`)
	assert.Contains(t, logged, `"event_type":"execution.ended"`)
	assert.Contains(t, logged, `"execution_id":9`)
	assert.Contains(t, logged, "subscriber down")
}

func TestErrorHandlerReceivesEvent(t *testing.T) {
	type report struct {
		event Event
		err   error
	}
	reports := make(chan report, 1)
	failure := errors.New("subscriber down")

	eb := NewEventBus(WithErrorHandler(func(event Event, err error) {
		reports <- report{event, err}
	}))
	defer eb.Stop()
	eb.Subscribe(TypeVariableSet, &recorder{err: failure})

	event := NewEvent(TypeVariableSet, 3, "Counter")
	require.NoError(t, eb.Publish(context.Background(), event))

	select {
	case r := <-reports:
		assert.Equal(t, event.ID, r.event.ID)
		assert.ErrorIs(t, r.err, failure)
	case <-time.After(time.Second):
		t.Fatal("error handler was not called")
	}
}

func TestPublishDuringStop(t *testing.T) {
	eb := NewEventBus(WithBufferSize(4))
	eb.Subscribe(TypeNodeActivated, &recorder{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := eb.Publish(context.Background(), NewEvent(TypeNodeActivated, uint64(i), "Shared"+strconv.Itoa(j)))
				if err != nil && !errors.Is(err, ErrBusClosed) && !errors.Is(err, ErrChannelFull) {
					t.Errorf("unexpected publish error: %v", err)
				}
			}
		}(i)
	}
	eb.Stop()
	wg.Wait()

	assert.ErrorIs(t, eb.Publish(context.Background(), NewEvent(TypeNodeActivated, 1, "Shared")), ErrBusClosed)
}
