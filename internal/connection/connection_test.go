// ABOUTME: Tests for the connection status machine
// ABOUTME: Status only moves forward and closed is terminal

package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	order := []Status{StatusPending, StatusNeedsConfirmation, StatusEstablished, StatusClosed}
	now := time.Unix(100, 0)

	for i, from := range order {
		for j, to := range order {
			c := Connection{UniqueRequestKey: "a:1", Status: from}
			err := c.transition(to, now)
			switch {
			case from == StatusClosed && to != StatusClosed:
				assert.ErrorIs(t, err, ErrAlreadyClosed, "%s -> %s", from, to)
				assert.Equal(t, StatusClosed, c.Status)
			case j < i:
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
				assert.Equal(t, from, c.Status)
			default:
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, c.Status)
			}
		}
	}
}

func TestDerivedFlagsFollowStatus(t *testing.T) {
	c := Connection{Status: StatusPending}
	assert.True(t, c.IsPending())
	assert.False(t, c.NeedsConfirmation())

	c.Status = StatusNeedsConfirmation
	assert.False(t, c.IsPending())
	assert.True(t, c.NeedsConfirmation())

	c.Status = StatusEstablished
	assert.True(t, c.IsEstablished())
	assert.False(t, c.IsPending() || c.NeedsConfirmation() || c.IsClosed())
}

func TestRequestKey(t *testing.T) {
	assert.Equal(t, "0.0.1001:42", RequestKey("0.0.1001", 42))
	assert.True(t, StatusClosed.Valid())
	assert.False(t, Status("open").Valid())
}
