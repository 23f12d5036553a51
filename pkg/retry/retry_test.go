package retry

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDoWithResult_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	v, err := DoWithResult(func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	}, WithAttempts(5), WithDelay(time.Millisecond))

	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 3, calls)
}

func TestDoWithResult_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := DoWithResult(func() (int, error) {
		calls++
		return 0, errors.New("broken")
	}, WithAttempts(3), WithDelay(time.Millisecond))

	require.Error(t, err)
	require.Contains(t, err.Error(), "giving up after 3 attempts")
	require.Equal(t, 3, calls)
}

func TestDo_BacksOffBetweenAttempts(t *testing.T) {
	var gaps []time.Duration
	last := time.Now()
	calls := 0
	err := Do(func() error {
		now := time.Now()
		if calls > 0 {
			gaps = append(gaps, now.Sub(last))
		}
		last = now
		calls++
		return errors.New("broken")
	}, WithAttempts(3), WithDelay(10*time.Millisecond), WithBackoff(2))

	require.Error(t, err)
	require.Len(t, gaps, 2)
	require.GreaterOrEqual(t, gaps[1], gaps[0])
}
