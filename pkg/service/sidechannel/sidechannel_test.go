package sidechannel_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fractionalquest/copilot/pkg/service/sidechannel"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type failures struct {
	mu   sync.Mutex
	errs map[string]error
}

func (f *failures) handler(ctx context.Context, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	f.errs[name] = err
}

func (f *failures) get(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[name]
}

func TestFailureIsReportedNotPropagated(t *testing.T) {
	f := &failures{}
	r := sidechannel.New(sidechannel.WithFailureHandler(f.handler))

	var calls atomic.Int32
	accepted := r.Go(context.Background(), "memory.store_turn", func(ctx context.Context) error {
		calls.Add(1)
		return goerr.New("memory service unavailable")
	})
	gt.True(t, accepted)

	gt.NoError(t, r.Close(context.Background()))
	gt.Equal(t, calls.Load(), int32(1))
	gt.Error(t, f.get("memory.store_turn"))
}

func TestPanicIsContained(t *testing.T) {
	f := &failures{}
	r := sidechannel.New(sidechannel.WithFailureHandler(f.handler))

	r.Go(context.Background(), "boom", func(ctx context.Context) error {
		panic("unexpected")
	})
	gt.NoError(t, r.Close(context.Background()))
	gt.Error(t, f.get("boom"))
}

func TestTaskIsDetachedFromCallerCancellation(t *testing.T) {
	r := sidechannel.New()
	ctx, cancel := context.WithCancel(context.Background())

	var ctxErr atomic.Value
	r.Go(ctx, "detached", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		return nil
	})
	cancel()

	gt.NoError(t, r.Close(context.Background()))
	gt.Nil(t, ctxErr.Load())
}

func TestTimeoutBoundsTask(t *testing.T) {
	f := &failures{}
	r := sidechannel.New(
		sidechannel.WithTimeout(10*time.Millisecond),
		sidechannel.WithFailureHandler(f.handler),
	)

	r.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	gt.NoError(t, r.Close(context.Background()))
	gt.True(t, errors.Is(f.get("slow"), context.DeadlineExceeded))
}

func TestFullBufferDropsTask(t *testing.T) {
	f := &failures{}
	release := make(chan struct{})
	started := make(chan struct{})
	r := sidechannel.New(
		sidechannel.WithWorkers(1),
		sidechannel.WithBuffer(0),
		sidechannel.WithFailureHandler(f.handler),
	)

	// the single worker must be parked on the unbuffered channel before it accepts work
	accepted := false
	for i := 0; i < 100 && !accepted; i++ {
		accepted = r.Go(context.Background(), "blocker", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
		if !accepted {
			time.Sleep(time.Millisecond)
		}
	}
	gt.True(t, accepted)
	<-started

	gt.False(t, r.Go(context.Background(), "dropped", func(ctx context.Context) error { return nil }))
	gt.True(t, errors.Is(f.get("dropped"), sidechannel.ErrDropped))

	close(release)
	gt.NoError(t, r.Close(context.Background()))
}

func TestGoAfterCloseIsDropped(t *testing.T) {
	f := &failures{}
	r := sidechannel.New(sidechannel.WithFailureHandler(f.handler))
	gt.NoError(t, r.Close(context.Background()))

	gt.False(t, r.Go(context.Background(), "late", func(ctx context.Context) error { return nil }))
	gt.True(t, errors.Is(f.get("late"), sidechannel.ErrDropped))
}
