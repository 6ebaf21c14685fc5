package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "order-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, l.size())
}

func TestLocker_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocker_ContextCancelled(t *testing.T) {
	l := NewLocker()

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	assert.Zero(t, l.size())
}

type fixedSequence struct{ n int64 }

func (s *fixedSequence) NextSequence(context.Context) (int64, error) {
	s.n++
	return s.n, nil
}

type failingSequence struct{}

func (failingSequence) NextSequence(context.Context) (int64, error) {
	return 0, errors.New("sequence unavailable")
}

func TestNumberGenerator(t *testing.T) {
	g := NewNumberGenerator(" web ", &fixedSequence{n: 41})
	g.now = func() time.Time { return testNow }

	n, err := g.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "WEB-2026-000042", n)

	g = NewNumberGenerator("", &fixedSequence{n: 1234567})
	g.now = func() time.Time { return testNow }
	n, err = g.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OO-2026-1234568", n)

	_, err = NewNumberGenerator("", failingSequence{}).Next(context.Background())
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{nil, ClassUnknown},
		{invalid("items", "empty"), ClassFixInput},
		{fmt.Errorf("get: %w", ErrNotFound), ClassNotFound},
		{&InvalidTransitionError{Entity: "order", From: "pending", To: "shipped"}, ClassContactSupport},
		{&InvariantViolationError{OrderID: "o", Detail: "x"}, ClassContactSupport},
		{ErrNoGateway, ClassContactSupport},
		{persistence("update", ErrConflict), ClassTryAgain},
		{context.DeadlineExceeded, ClassTryAgain},
		{&PaymentError{Message: "declined"}, ClassTryAgain},
		{&PaymentError{Cancelled: true}, ClassSilent},
		{errors.New("boom"), ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPersistenceDoesNotDoubleWrap(t *testing.T) {
	inner := persistence("create", errors.New("disk full"))
	outer := persistence("update", inner)
	assert.Same(t, inner, outer)
	assert.Equal(t, "create: disk full", outer.Error())
}
