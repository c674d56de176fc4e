package engine

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
)

func TestTimersAreKeyedPerWait(t *testing.T) {
	mock := clock.NewMock()
	e := New(nil, Options{Clock: mock})
	wake := mock.Now().Add(time.Hour)

	e.armTimer("wf", 1, wake)
	e.armTimer("wf", 3, wake)
	assert.True(t, e.timerArmed("wf", 1))
	assert.True(t, e.timerArmed("wf", 3))

	e.stopTimer("wf", 1)
	assert.False(t, e.timerArmed("wf", 1))
	assert.True(t, e.timerArmed("wf", 3), "stopping an earlier wait must keep the later timer")

	e.stopTimer("wf", 3)
	assert.False(t, e.timerArmed("wf", 3))
}
