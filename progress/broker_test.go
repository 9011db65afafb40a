package progress

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielJuan349/occultashield/domain"
)

func newTestBroker(t *testing.T) (*Broker, *clock.Mock) {
	mock := clock.NewMock()
	b := NewBroker(mock)
	t.Cleanup(b.Stop)
	return b, mock
}

func TestRegisterIsIdempotent(t *testing.T) {
	b, _ := newTestBroker(t)
	first := b.Register("v1")
	second := b.Register("v1")
	assert.Same(t, first, second)
	assert.Equal(t, domain.PhaseQueued, first.Phase)
}

func TestSubscribeReceivesInitialState(t *testing.T) {
	b, _ := newTestBroker(t)
	b.Register("v1")
	ch, unsub := b.Subscribe("v1")
	defer unsub()

	select {
	case ev := <-ch:
		assert.Equal(t, EventInitialState, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial_state")
	}
}

func TestPhaseChangeBroadcasts(t *testing.T) {
	b, _ := newTestBroker(t)
	b.Register("v1")
	ch, unsub := b.Subscribe("v1")
	defer unsub()
	<-ch // initial_state

	b.PhaseChange("v1", domain.PhaseDetecting, "scanning frames")

	ev := <-ch
	require.Equal(t, EventPhaseChange, ev.Type)
	payload := ev.Payload.(PhaseChangePayload)
	assert.Equal(t, domain.PhaseDetecting, payload.Phase)
	assert.Equal(t, domain.PhaseQueued, payload.PreviousPhase)

	st, ok := b.State("v1")
	require.True(t, ok)
	assert.Equal(t, domain.PhaseDetecting, st.Phase)
}

func TestDetectionIncrementsCountPerType(t *testing.T) {
	b, _ := newTestBroker(t)
	b.Register("v1")
	ch, unsub := b.Subscribe("v1")
	defer unsub()
	<-ch

	b.Detection("v1", domain.TypeFace, 10, 0.9)
	b.Detection("v1", domain.TypeFace, 20, 0.95)

	ev1 := (<-ch).Payload.(DetectionPayload)
	ev2 := (<-ch).Payload.(DetectionPayload)
	assert.Equal(t, 1, ev1.Count)
	assert.Equal(t, 2, ev2.Count)
}

func TestVerificationGroupDoneReportsCompletedOverTotal(t *testing.T) {
	b, _ := newTestBroker(t)
	b.Register("v1")
	b.SetVerificationTotal("v1", 2)
	ch, unsub := b.Subscribe("v1")
	defer unsub()
	<-ch

	b.VerificationGroupDone("v1", "track-1", domain.VerificationRecord{})
	ev := (<-ch).Payload.(VerificationPayload)
	assert.Equal(t, 1, ev.AgentsCompleted)
	assert.Equal(t, 2, ev.TotalAgents)
}

func TestCompleteClosesSubscriberChannel(t *testing.T) {
	b, _ := newTestBroker(t)
	b.Register("v1")
	ch, unsub := b.Subscribe("v1")
	defer unsub()
	<-ch

	b.Complete("v1", 3, 1, "/download/v1")

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, EventComplete, ev.Type)

	_, stillOpen := <-ch
	assert.False(t, stillOpen, "channel must be closed after complete")
}

func TestErrorClosesSubscriberChannelAndRecordsMessage(t *testing.T) {
	b, _ := newTestBroker(t)
	b.Register("v1")
	ch, unsub := b.Subscribe("v1")
	defer unsub()
	<-ch

	b.Error("v1", "detector crashed")

	ev := <-ch
	assert.Equal(t, EventError, ev.Type)
	_, stillOpen := <-ch
	assert.False(t, stillOpen)

	st, ok := b.State("v1")
	require.True(t, ok)
	assert.Equal(t, domain.PhaseError, st.Phase)
	assert.Contains(t, st.Errors, "detector crashed")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b, _ := newTestBroker(t)
	b.Register("v1")
	ch, unsub := b.Subscribe("v1")
	<-ch
	unsub()

	b.PhaseChange("v1", domain.PhaseDetecting, "x")
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestHeartbeatFiresAfterIdlePeriod(t *testing.T) {
	b, mock := newTestBroker(t)
	b.Register("v1")
	ch, unsub := b.Subscribe("v1")
	defer unsub()
	<-ch // initial_state

	mock.Add(defaultHeartbeatPeriod + time.Millisecond)

	select {
	case ev := <-ch:
		assert.Equal(t, EventHeartbeat, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat")
	}
}

func TestProgressClampsToUnitRange(t *testing.T) {
	b, _ := newTestBroker(t)
	b.Register("v1")
	ch, unsub := b.Subscribe("v1")
	defer unsub()
	<-ch

	b.Progress("v1", 5.0, 10, 10, "over")
	ev := (<-ch).Payload.(ProgressPayload)
	assert.Equal(t, 1.0, ev.Progress)
}
