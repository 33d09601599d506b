package breaker

import (
	"fmt"
	"testing"
	"time"

	"go-apigateway/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = fmt.Errorf("backend exploded")

func failing() error { return errBackend }
func succeeding() error { return nil }

func testBreaker() *Breaker {
	return New("test-upstream", Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		WindowSize:       5,
		Timeout:          50 * time.Millisecond,
	}, nil)
}

func TestOpensAfterWindowFullOfFailures(t *testing.T) {
	b := testBreaker()

	for i := 0; i < 5; i++ {
		assert.Error(t, b.Execute(failing))
	}
	assert.Equal(t, StateOpen, b.State())

	// Rejected immediately with the circuit-open error
	err := b.Execute(succeeding)
	require.Error(t, err)
	ge, ok := err.(*errors.GatewayError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeCircuitOpen, ge.Code)

	counters := b.Counters()
	assert.Equal(t, int64(1), counters.Rejected)
	assert.Equal(t, int64(5), counters.Failures)
}

func TestDoesNotOpenBeforeWindowFull(t *testing.T) {
	b := testBreaker()

	for i := 0; i < 4; i++ {
		assert.Error(t, b.Execute(failing))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenThenClose(t *testing.T) {
	b := testBreaker()

	for i := 0; i < 5; i++ {
		b.Execute(failing)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, b.Execute(succeeding))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(succeeding))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := testBreaker()

	for i := 0; i < 5; i++ {
		b.Execute(failing)
	}
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, b.Execute(succeeding))
	require.Equal(t, StateHalfOpen, b.State())

	require.Error(t, b.Execute(failing))
	assert.Equal(t, StateOpen, b.State())
}

func TestHalfOpenAdmissionBounded(t *testing.T) {
	b := testBreaker()
	b.ForceState(StateHalfOpen)

	admitted := 0
	for i := 0; i < 5; i++ {
		gen, err := b.admit()
		if err == nil {
			admitted++
			_ = gen
		}
	}
	assert.Equal(t, 2, admitted)
}

func TestResetReturnsToClosed(t *testing.T) {
	b := testBreaker()
	for i := 0; i < 5; i++ {
		b.Execute(failing)
	}
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, Counters{}, b.Counters())
	require.NoError(t, b.Execute(succeeding))
}

func TestForceState(t *testing.T) {
	b := testBreaker()
	b.ForceState(StateOpen)
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(succeeding)
	require.Error(t, err)
}

func TestTransitionEvents(t *testing.T) {
	b := testBreaker()

	var events []EventKind
	b.Subscribe(EventOpen, func(e Event) { events = append(events, e.Kind) })
	b.Subscribe(EventHalfOpen, func(e Event) { events = append(events, e.Kind) })
	b.Subscribe(EventClose, func(e Event) { events = append(events, e.Kind) })

	for i := 0; i < 5; i++ {
		b.Execute(failing)
	}
	time.Sleep(60 * time.Millisecond)
	b.Execute(succeeding)
	b.Execute(succeeding)

	assert.Equal(t, []EventKind{EventOpen, EventHalfOpen, EventClose}, events)
}

func TestSuccessesClearWindowOnClose(t *testing.T) {
	b := testBreaker()

	for i := 0; i < 5; i++ {
		b.Execute(failing)
	}
	time.Sleep(60 * time.Millisecond)
	b.Execute(succeeding)
	b.Execute(succeeding)
	require.Equal(t, StateClosed, b.State())

	// A single failure after recovery must not re-open: the window was
	// cleared on close.
	b.Execute(failing)
	assert.Equal(t, StateClosed, b.State())
}

func TestStaleHalfOpenOutcomeDiscarded(t *testing.T) {
	b := testBreaker()
	for i := 0; i < 5; i++ {
		b.Execute(failing)
	}
	time.Sleep(60 * time.Millisecond)

	gen, err := b.admit()
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, b.State())

	// Another probe fails first, reopening the circuit
	b.recordFailure(gen)
	require.Equal(t, StateOpen, b.State())

	// The stale success from the earlier generation is discarded
	before := b.Counters().Total
	b.recordSuccess(gen)
	assert.Equal(t, before, b.Counters().Total)
	assert.Equal(t, StateOpen, b.State())
}
