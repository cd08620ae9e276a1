package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }

func TestFanout(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	boom := errors.New("broker down")
	fan := Fanout{a, nil, failing{boom}, b}

	err := fan.Publish(context.Background(), NewEvent(EventDeployed, "dep-1", "spec-1", nil))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []EventType{EventDeployed}, a.Types())
	assert.Equal(t, []EventType{EventDeployed}, b.Types())
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventStopped, "dep-1", "spec-1", map[string]int{"sold": 2})
	require.NotEmpty(t, e.ID)
	assert.Equal(t, EventStopped, e.Type)
	assert.False(t, e.Timestamp.IsZero())
	assert.NoError(t, Nop{}.Publish(context.Background(), e))
}
