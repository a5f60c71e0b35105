package future_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mockupdb/mockupdb/internal/future"
	"github.com/stretchr/testify/require"
)

func TestGo_ReturnsValue(t *testing.T) {
	f := future.Go(func() (int, error) {
		return 42, nil
	})
	v, err := f.Result(time.Second)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestGo_ReRaisesError(t *testing.T) {
	sentinel := errors.New("boom")
	f := future.Go(func() (int, error) {
		return 0, sentinel
	})
	_, err := f.Result(time.Second)
	require.ErrorIs(t, err, sentinel)
}

func TestGo_RecoversPanic(t *testing.T) {
	f := future.Go(func() (int, error) {
		panic("kaboom")
	})
	_, err := f.Result(time.Second)
	require.Error(t, err)
}

func TestResult_TimesOut(t *testing.T) {
	f := future.Go(func() (int, error) {
		time.Sleep(200 * time.Millisecond)
		return 1, nil
	})
	_, err := f.Result(10 * time.Millisecond)
	require.Error(t, err)
}

func TestGoing_RunsSideEffect(t *testing.T) {
	ran := make(chan struct{}, 1)
	bodyRan := false
	f := future.Going(func() {
		bodyRan = true
	}, func() (any, error) {
		ran <- struct{}{}
		return nil, nil
	})
	require.True(t, bodyRan)
	_, err := f.Result(time.Second)
	require.NoError(t, err)
	select {
	case <-ran:
	default:
		t.Fatal("side effect did not run")
	}
}

func TestGoing_JoinsBeforeReturning(t *testing.T) {
	f := future.Going(func() {
		time.Sleep(20 * time.Millisecond)
	}, func() (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "done", nil
	})
	require.True(t, f.Done())
}

func TestGoing_BodyPanicPropagatesAfterJoin(t *testing.T) {
	joined := false
	require.Panics(t, func() {
		future.Going(func() {
			panic("body blew up")
		}, func() (any, error) {
			time.Sleep(10 * time.Millisecond)
			joined = true
			return nil, nil
		})
	})
	require.True(t, joined)
}

func TestWaitUntil_SucceedsWhenPredicateBecomesTrue(t *testing.T) {
	var ready atomic.Bool
	go func() {
		time.Sleep(30 * time.Millisecond)
		ready.Store(true)
	}()
	err := future.WaitUntil(time.Second, 10*time.Millisecond, "ready flag", ready.Load)
	require.NoError(t, err)
}

func TestWaitUntil_TimesOut(t *testing.T) {
	err := future.WaitUntil(30*time.Millisecond, 10*time.Millisecond, "never true", func() bool { return false })
	require.Error(t, err)
	require.Contains(t, err.Error(), "never true")
}
