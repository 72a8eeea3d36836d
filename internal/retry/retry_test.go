package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastPolicy keeps test waits negligible.
var fastPolicy = Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}

func TestDo(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy, func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("recovers within the budget", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy, func() error {
			calls++
			if calls < 3 {
				return errors.New("flaky")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("budget exhausted returns the last error", func(t *testing.T) {
		boom := errors.New("still down")
		calls := 0
		err := Do(context.Background(), fastPolicy, func() error {
			calls++
			return boom
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, boom))
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		notFound := errors.New("404")
		calls := 0
		err := Do(context.Background(), fastPolicy, func() error {
			calls++
			return Permanent(notFound)
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, notFound))
		assert.Equal(t, 1, calls)
	})

	t.Run("cancellation interrupts the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := Policy{MaxAttempts: 5, InitialBackoff: time.Minute, MaxBackoff: time.Minute}

		done := make(chan error, 1)
		go func() {
			done <- Do(ctx, slow, func() error { return errors.New("always") })
		}()
		cancel()

		select {
		case err := <-done:
			assert.True(t, errors.Is(err, context.Canceled))
		case <-time.After(5 * time.Second):
			t.Fatal("Do did not return after cancellation")
		}
	})

	t.Run("zero policy falls back to defaults", func(t *testing.T) {
		calls := 0
		_ = Do(context.Background(), Policy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, func() error {
			calls++
			return errors.New("nope")
		})
		assert.Equal(t, Default.MaxAttempts, calls)
	})
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 400*time.Millisecond, nextBackoff(200*time.Millisecond, 5*time.Second))
	assert.Equal(t, 5*time.Second, nextBackoff(3*time.Second, 5*time.Second))
	assert.Equal(t, 5*time.Second, nextBackoff(5*time.Second, 5*time.Second))
}
