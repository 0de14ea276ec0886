package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.False(t, TestPending.IsTerminal())
	assert.False(t, TestQueued.IsTerminal())
	assert.False(t, TestRunning.IsTerminal())
	assert.True(t, TestCompleted.IsTerminal())
	assert.True(t, TestFailed.IsTerminal())
	assert.True(t, TestCancelled.IsTerminal())
}

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, TestPending.CanTransitionTo(TestQueued))
	assert.False(t, TestPending.CanTransitionTo(TestRunning))

	assert.True(t, TestQueued.CanTransitionTo(TestRunning))
	assert.True(t, TestQueued.CanTransitionTo(TestCancelled))
	assert.True(t, TestQueued.CanTransitionTo(TestCompleted))

	assert.True(t, TestRunning.CanTransitionTo(TestCompleted))
	assert.True(t, TestRunning.CanTransitionTo(TestFailed))
	assert.True(t, TestRunning.CanTransitionTo(TestCancelled))
	assert.False(t, TestRunning.CanTransitionTo(TestQueued))

	// terminal states only allow a re-run
	for _, s := range []TestStatus{TestCompleted, TestFailed, TestCancelled} {
		assert.True(t, s.CanTransitionTo(TestQueued))
		assert.False(t, s.CanTransitionTo(TestRunning))
		assert.False(t, s.CanTransitionTo(TestPending))
	}

	// nothing transitions back to pending
	for _, s := range []TestStatus{TestPending, TestQueued, TestRunning, TestCompleted, TestFailed, TestCancelled} {
		assert.False(t, s.CanTransitionTo(TestPending))
	}
}
