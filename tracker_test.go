package gearman

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// work_exception notifies only the head task and does not consume it; a
// terminal work_fail still follows and finishes the job (§4.2, §8).
func TestWorkExceptionThenWorkFail(t *testing.T) {
	reactor := newFakeReactor()
	e, _ := readyEndpoint(reactor)

	t1 := newMockTask("s1")
	require.NoError(t, AddTask[mockTask, *mockTask](e, t1))
	require.NoError(t, feed(e, PacketJobCreated, []byte("H1")))

	require.NoError(t, feed(e, PacketWorkException, []byte("H1\x00boom")))
	assert.Equal(t, [][]byte{[]byte("boom")}, t1.exceptions)
	assert.Equal(t, []Task{t1}, e.waiting["H1"])

	require.NoError(t, feed(e, PacketWorkFail, []byte("H1")))
	assert.Equal(t, 1, t1.failed)
	_, ok := e.waiting["H1"]
	assert.False(t, ok)
}

// A work_complete or work_exception with no NUL separator at all is
// malformed and fatal per §7, not a no-payload completion against whatever
// garbage is read as the handle.
func TestWorkCompleteWithoutSeparatorIsFatal(t *testing.T) {
	reactor := newFakeReactor()
	e, _ := readyEndpoint(reactor)

	t1 := newMockTask("s1")
	require.NoError(t, AddTask[mockTask, *mockTask](e, t1))
	require.NoError(t, feed(e, PacketJobCreated, []byte("H1")))

	err := feed(e, PacketWorkComplete, []byte("H1"))
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Empty(t, t1.completed)
}

func TestWorkExceptionWithoutSeparatorIsFatal(t *testing.T) {
	reactor := newFakeReactor()
	e, _ := readyEndpoint(reactor)

	t1 := newMockTask("s1")
	require.NoError(t, AddTask[mockTask, *mockTask](e, t1))
	require.NoError(t, feed(e, PacketJobCreated, []byte("H1")))

	err := feed(e, PacketWorkException, []byte("H1"))
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Empty(t, t1.exceptions)
}

// Duplicate tasks coalesced server-side under one handle each get their own
// work_complete.
func TestDuplicateTasksUnderOneHandleEachConsumeOneComplete(t *testing.T) {
	reactor := newFakeReactor()
	e, _ := readyEndpoint(reactor)

	t1 := newMockTask("same")
	t2 := newMockTask("same")
	require.NoError(t, AddTask[mockTask, *mockTask](e, t1))
	require.NoError(t, AddTask[mockTask, *mockTask](e, t2))
	require.NoError(t, feed(e, PacketJobCreated, []byte("H1")))
	require.NoError(t, feed(e, PacketJobCreated, []byte("H1")))

	assert.Equal(t, []Task{t1, t2}, e.waiting["H1"])

	require.NoError(t, feed(e, PacketWorkComplete, []byte("H1\x00r1")))
	assert.Equal(t, [][]byte{[]byte("r1")}, t1.completed)
	assert.Empty(t, t2.completed)
	assert.Equal(t, []Task{t2}, e.waiting["H1"])

	require.NoError(t, feed(e, PacketWorkComplete, []byte("H1\x00r2")))
	assert.Equal(t, [][]byte{[]byte("r2")}, t2.completed)
	_, ok := e.waiting["H1"]
	assert.False(t, ok)
}

// A job_created for a task whose weak reference has been reclaimed is
// dropped silently: no waiting entry, and a later work_* for that handle is
// ignored rather than crashing (§8 boundary behaviors).
func TestJobCreatedForReclaimedTaskIsDroppedSilently(t *testing.T) {
	reactor := newFakeReactor()
	e, _ := readyEndpoint(reactor)

	func() {
		t1 := newMockTask("gone")
		require.NoError(t, AddTask[mockTask, *mockTask](e, t1))
	}()

	runtime.GC()
	runtime.GC()

	require.NoError(t, feed(e, PacketJobCreated, []byte("H1")))

	assert.Empty(t, e.waiting)
	assert.Empty(t, e.task2handle)

	assert.NoError(t, feed(e, PacketWorkComplete, []byte("H1\x00ignored")))
}

func TestGiveUpOnRemovesFromNeedHandle(t *testing.T) {
	reactor := newFakeReactor()
	e, _ := readyEndpoint(reactor)

	t1 := newMockTask("s1")
	require.NoError(t, AddTask[mockTask, *mockTask](e, t1))
	require.NoError(t, e.GiveUpOn(t1))
	assert.Empty(t, e.needHandle)

	// The job_created that would have assigned t1 arrives after GiveUpOn;
	// need_handle is now empty, so it is a protocol violation rather than
	// silently ignored (there is nothing left to pop).
	err := feed(e, PacketJobCreated, []byte("H1"))
	assert.ErrorIs(t, err, ErrNoHandle)
}

func TestGiveUpOnRemovesFromWaitingAndDiscardsLateReply(t *testing.T) {
	reactor := newFakeReactor()
	e, _ := readyEndpoint(reactor)

	t1 := newMockTask("s1")
	require.NoError(t, AddTask[mockTask, *mockTask](e, t1))
	require.NoError(t, feed(e, PacketJobCreated, []byte("H1")))

	require.NoError(t, e.GiveUpOn(t1))
	assert.Empty(t, e.waiting)
	assert.Empty(t, e.task2handle)

	assert.NoError(t, feed(e, PacketWorkComplete, []byte("H1\x00late")))
	assert.Empty(t, t1.completed)
}

func TestGiveUpOnUnknownTaskReturnsError(t *testing.T) {
	reactor := newFakeReactor()
	e, _ := readyEndpoint(reactor)

	err := e.GiveUpOn(newMockTask("never-submitted"))
	assert.ErrorIs(t, err, ErrTaskReclaimed)
}
