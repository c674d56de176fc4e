package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueueDeduplicates(t *testing.T) {
	q := newWorkQueue()
	q.push("a")
	q.push("b")
	q.push("a")

	id, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", id)

	// a is active: pushing marks it to run again after done.
	q.push("a")
	id, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, "b", id)
	q.done("b")

	q.done("a")
	id, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", id)
	q.done("a")

	q.close()
	_, ok = q.pop()
	assert.False(t, ok)
}

func TestWorkQueueCloseWakesWaiters(t *testing.T) {
	q := newWorkQueue()
	done := make(chan bool)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()
	q.close()
	assert.False(t, <-done)
}
