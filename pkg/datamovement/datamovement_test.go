package datamovement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wrenchsim/wrenchsim/pkg/actor"
	"github.com/wrenchsim/wrenchsim/pkg/events"
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/messages"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/storageservice"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

func newHarness(t *testing.T) (*simclock.Clock, *actor.System, *actor.Mailbox) {
	t.Helper()
	clock := simclock.New()
	sys := actor.NewSystem(clock, 0)
	workflowMB := sys.Register("workflow")
	clock.RegisterActor()
	t.Cleanup(clock.UnregisterActor)
	return clock, sys, workflowMB
}

func TestSubmitFileCopyDeliversDoneEvent(t *testing.T) {
	clock, sys, workflowMB := newHarness(t)

	src := storageservice.NewInMemory("src", clock, map[string]int64{"/": 10_000}, 0)
	dst := storageservice.NewInMemory("dst", clock, map[string]int64{"/": 10_000}, 0)
	f := workflow.NewFile("f1", 1000)
	require.NoError(t, src.WriteFile(context.Background(), f, "/"))

	m := New("dm-1", workflowMB.Name(), clock, sys)
	m.Start("h0")

	m.SubmitFileCopy(context.Background(), f, src, "/", dst, "/")

	msg, err := actor.Recv(context.Background(), clock, workflowMB, 0)
	require.NoError(t, err)
	ev, ok := msg.(Event)
	require.True(t, ok)
	assert.Equal(t, EventFileCopyDone, ev.Kind)
	assert.Equal(t, f.ID, ev.FileID)
	assert.True(t, dst.LookupFile(f, "/"))
}

func TestSubmitFileCopyFailsOnMissingSourceFile(t *testing.T) {
	clock, sys, workflowMB := newHarness(t)

	src := storageservice.NewInMemory("src", clock, map[string]int64{"/": 10_000}, 0)
	dst := storageservice.NewInMemory("dst", clock, map[string]int64{"/": 10_000}, 0)
	f := workflow.NewFile("missing", 1000)

	m := New("dm-2", workflowMB.Name(), clock, sys)
	m.Start("h0")

	m.SubmitFileCopy(context.Background(), f, src, "/", dst, "/")

	msg, err := actor.Recv(context.Background(), clock, workflowMB, 0)
	require.NoError(t, err)
	ev, ok := msg.(Event)
	require.True(t, ok)
	assert.Equal(t, EventFileCopyFailed, ev.Kind)
	require.NotNil(t, ev.Cause)
	assert.Equal(t, failure.FileNotFound, ev.Cause.Kind)
}

func TestSubmitFileCopyFailsOnDestinationFull(t *testing.T) {
	clock, sys, workflowMB := newHarness(t)

	src := storageservice.NewInMemory("src", clock, map[string]int64{"/": 10_000}, 0)
	dst := storageservice.NewInMemory("dst", clock, map[string]int64{"/": 100}, 0)
	f := workflow.NewFile("f1", 1000)
	require.NoError(t, src.WriteFile(context.Background(), f, "/"))

	m := New("dm-3", workflowMB.Name(), clock, sys)
	m.Start("h0")

	m.SubmitFileCopy(context.Background(), f, src, "/", dst, "/")

	msg, err := actor.Recv(context.Background(), clock, workflowMB, 0)
	require.NoError(t, err)
	ev, ok := msg.(Event)
	require.True(t, ok)
	assert.Equal(t, EventFileCopyFailed, ev.Kind)
	require.NotNil(t, ev.Cause)
	assert.Equal(t, failure.StorageFull, ev.Cause.Kind)
}

func TestManagerStopAcksAndDropsFurtherCopies(t *testing.T) {
	clock, sys, workflowMB := newHarness(t)
	replyMB := sys.Register("stop-reply")

	m := New("dm-4", workflowMB.Name(), clock, sys)
	m.Start("h0")

	require.NoError(t, sys.Send(context.Background(), "dm-4", messages.StopService{AnswerMailbox: string(replyMB.Name())}))

	msg, err := actor.Recv(context.Background(), clock, replyMB, 0)
	require.NoError(t, err)
	_, ok := msg.(messages.StoppedAck)
	assert.True(t, ok)

	src := storageservice.NewInMemory("src", clock, map[string]int64{"/": 10_000}, 0)
	dst := storageservice.NewInMemory("dst", clock, map[string]int64{"/": 10_000}, 0)
	f := workflow.NewFile("f1", 1000)
	require.NoError(t, src.WriteFile(context.Background(), f, "/"))

	m.SubmitFileCopy(context.Background(), f, src, "/", dst, "/")
	assert.False(t, dst.LookupFile(f, "/"))
}

// TestManagerPublishesEventsWhenBrokerAttached checks that attaching a
// broker produces a file_copy.completed notification alongside the
// existing workflow-mailbox event.
func TestManagerPublishesEventsWhenBrokerAttached(t *testing.T) {
	clock, sys, workflowMB := newHarness(t)

	src := storageservice.NewInMemory("src", clock, map[string]int64{"/": 10_000}, 0)
	dst := storageservice.NewInMemory("dst", clock, map[string]int64{"/": 10_000}, 0)
	f := workflow.NewFile("f1", 1000)
	require.NoError(t, src.WriteFile(context.Background(), f, "/"))

	m := New("dm-5", workflowMB.Name(), clock, sys)
	m.Start("h0")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	m.SetBroker(broker)

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	m.SubmitFileCopy(context.Background(), f, src, "/", dst, "/")

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventFileCopyCompleted, ev.Type)
		assert.Equal(t, f.ID, ev.Metadata["file_id"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}
