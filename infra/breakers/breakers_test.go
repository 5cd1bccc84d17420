package breakers

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func fail() (any, error) { return nil, errUpstream }

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	var transitions []string
	b := New("snapshots", Settings{
		ConsecutiveFailures: 2,
		Timeout:             time.Hour,
		OnStateChange: func(_ string, from, to string) {
			transitions = append(transitions, from+">"+to)
		},
	})

	_, err := b.Execute(fail)
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, "closed", b.State())

	_, err = b.Execute(fail)
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, "open", b.State())

	called := false
	_, err = b.Execute(func() (any, error) { called = true; return nil, nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed>open"}, transitions)
}

func TestBreakerPassesResults(t *testing.T) {
	b := New("predictions", Settings{})
	v, err := b.Execute(func() (any, error) { return 0.7, nil })
	require.NoError(t, err)
	assert.Equal(t, 0.7, v)
	assert.Equal(t, "predictions", b.Name())
}
