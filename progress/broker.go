// Package progress is the pub/sub broker behind the live progress
// channel (spec.md §6): per-video state plus a set of bounded
// subscriber queues, fed by every pipeline phase.
package progress

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/log"
)

const (
	defaultQueueCapacity    = 32
	defaultEnqueueDeadline  = time.Second
	defaultHeartbeatPeriod  = 15 * time.Second
)

// subscription is one SSE consumer's queue. sendMu serializes every
// send against the channel's eventual close, so a terminal event
// (Complete/Error) can never close ch out from under a send that's
// still blocked in sendTo's select — both sendTo and the
// unsubscribe/closeAll paths take sendMu before touching ch.
type subscription struct {
	id       uint64
	ch       chan Event
	lastSent time.Time
	sendMu   sync.Mutex
	closed   bool
}

type verificationCount struct {
	completed int
	total     int
}

// Broker holds per-video progress state and subscriber sets behind a
// single mutex, per spec.md §5 ("protected by a single mutex per
// broker; all mutations are brief"). Grounded on
// `_examples/original_source/backend/app/services/progress_manager.py`'s
// ProgressManager (per-video subscriber map, timeout-bounded
// broadcast, dead-queue cleanup), with the testable-clock and
// panic-recovering background loop adapted from the teacher's
// `progress/progress.go`.
type Broker struct {
	mu    sync.Mutex
	clock clock.Clock

	states      map[string]*domain.ProgressState
	subscribers map[string]map[uint64]*subscription
	nextSubID   uint64

	verification map[string]*verificationCount

	queueCapacity   int
	enqueueDeadline time.Duration
	heartbeatPeriod time.Duration

	stop chan struct{}
}

// NewBroker builds a Broker and starts its heartbeat loop. Pass
// clock.NewMock() in tests to control heartbeat timing deterministically.
func NewBroker(clk clock.Clock) *Broker {
	if clk == nil {
		clk = clock.New()
	}
	b := &Broker{
		clock:           clk,
		states:          map[string]*domain.ProgressState{},
		subscribers:     map[string]map[uint64]*subscription{},
		verification:    map[string]*verificationCount{},
		queueCapacity:   defaultQueueCapacity,
		enqueueDeadline: defaultEnqueueDeadline,
		heartbeatPeriod: defaultHeartbeatPeriod,
		stop:            make(chan struct{}),
	}
	go b.heartbeatLoop()
	return b
}

// Stop ends the heartbeat loop. Subscriber channels are left open;
// callers that own the broker's lifetime should Unsubscribe everyone
// first.
func (b *Broker) Stop() {
	close(b.stop)
}

// Register creates (or returns the existing) progress state for a
// video. Idempotent so the pipeline's auto-start-on-first-subscribe
// path can call it unconditionally.
func (b *Broker) Register(videoID string) *domain.ProgressState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.states[videoID]; ok {
		return st
	}
	st := domain.NewProgressState(videoID)
	b.states[videoID] = st
	return st
}

// State returns a copy of the current state, or false if the video
// was never registered.
func (b *Broker) State(videoID string) (domain.ProgressState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[videoID]
	if !ok {
		return domain.ProgressState{}, false
	}
	return *st, true
}

// Subscribe registers a new SSE consumer for videoID and immediately
// enqueues an initial_state event carrying the current state, so a
// client that subscribes mid-pipeline is never out of sync. Returns a
// receive-only channel and an unsubscribe function the caller must
// call exactly once.
func (b *Broker) Subscribe(videoID string) (<-chan Event, func()) {
	b.mu.Lock()
	st, ok := b.states[videoID]
	if !ok {
		st = domain.NewProgressState(videoID)
		b.states[videoID] = st
	}
	id := b.nextSubID
	b.nextSubID++
	sub := &subscription{id: id, ch: make(chan Event, b.queueCapacity), lastSent: b.clock.Now()}
	if b.subscribers[videoID] == nil {
		b.subscribers[videoID] = map[uint64]*subscription{}
	}
	b.subscribers[videoID][id] = sub
	stCopy := *st
	b.mu.Unlock()

	b.sendTo(videoID, sub, Event{Type: EventInitialState, VideoID: videoID, Payload: stCopy})

	return sub.ch, func() { b.unsubscribe(videoID, id) }
}

func (b *Broker) unsubscribe(videoID string, id uint64) {
	b.mu.Lock()
	subs, ok := b.subscribers[videoID]
	var sub *subscription
	if ok {
		sub, ok = subs[id]
		if ok {
			delete(subs, id)
		}
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	closeSub(sub)
}

// closeSub marks sub dead and closes its channel, serialized against
// any sendTo call currently in flight for the same subscription.
func closeSub(sub *subscription) {
	sub.sendMu.Lock()
	defer sub.sendMu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}

// PhaseChange transitions a video's phase and resets its progress
// counter, per the Python prototype's change_phase.
func (b *Broker) PhaseChange(videoID string, phase domain.Phase, message string) {
	b.mu.Lock()
	st, ok := b.states[videoID]
	if !ok {
		b.mu.Unlock()
		return
	}
	previous := st.Phase
	st.Phase = phase
	st.Progress = 0
	st.Message = message
	b.mu.Unlock()

	b.broadcast(videoID, Event{
		Type:    EventPhaseChange,
		VideoID: videoID,
		Payload: PhaseChangePayload{Phase: phase, PreviousPhase: previous, Message: message},
	})
}

// Progress reports granular current/total progress within a phase.
// progress is a 0..1 fraction, matching domain.ProgressState.
func (b *Broker) Progress(videoID string, progress float64, current, total int, message string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	b.mu.Lock()
	st, ok := b.states[videoID]
	if !ok {
		b.mu.Unlock()
		return
	}
	st.Progress = progress
	st.Current = current
	st.Total = total
	if message != "" {
		st.Message = message
	}
	phase := st.Phase
	b.mu.Unlock()

	b.broadcast(videoID, Event{
		Type:    EventProgress,
		VideoID: videoID,
		Payload: ProgressPayload{Phase: phase, Progress: progress, Current: current, Total: total, Message: message},
	})
}

// Detection reports one new detection and its running per-type count.
func (b *Broker) Detection(videoID string, typ domain.DetectionType, frame int64, confidence float64) {
	b.mu.Lock()
	st, ok := b.states[videoID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if st.DetectionsByType == nil {
		st.DetectionsByType = map[domain.DetectionType]int{}
	}
	st.DetectionsByType[typ]++
	count := st.DetectionsByType[typ]
	b.mu.Unlock()

	b.broadcast(videoID, Event{
		Type:    EventDetection,
		VideoID: videoID,
		Payload: DetectionPayload{
			DetectionType: typ,
			Count:         count,
			Frame:         frame,
			Confidence:    confidence,
			Message:       fmt.Sprintf("Detected %s #%d at frame %d", typ, count, frame),
		},
	})
}

// SetVerificationTotal tells the broker how many track groups the
// verification dispatcher will process for videoID, so subsequent
// VerificationGroupDone calls can report completed/total.
func (b *Broker) SetVerificationTotal(videoID string, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verification[videoID] = &verificationCount{total: total}
}

// VerificationGroupDone implements verify.Notifier: it's called once
// per completed track group by the verification dispatcher.
func (b *Broker) VerificationGroupDone(videoID, trackID string, result domain.VerificationRecord) {
	b.mu.Lock()
	vc, ok := b.verification[videoID]
	if !ok {
		vc = &verificationCount{}
		b.verification[videoID] = vc
	}
	vc.completed++
	completed, total := vc.completed, vc.total
	b.mu.Unlock()

	b.broadcast(videoID, Event{
		Type:    EventVerification,
		VideoID: videoID,
		Payload: VerificationPayload{
			TrackID:         trackID,
			AgentsCompleted: completed,
			TotalAgents:     total,
			Message:         fmt.Sprintf("Verifying: %d/%d tracks complete", completed, total),
		},
	})
}

// Complete marks a video as finished, emits the terminal complete
// event and closes every subscriber's channel.
func (b *Broker) Complete(videoID string, totalDetections, totalViolations int, redirectURL string) {
	b.mu.Lock()
	if st, ok := b.states[videoID]; ok {
		st.Phase = domain.PhaseCompleted
		st.Progress = 1
	}
	b.mu.Unlock()

	b.broadcast(videoID, Event{
		Type:    EventComplete,
		VideoID: videoID,
		Payload: CompletePayload{TotalDetections: totalDetections, TotalViolations: totalViolations, RedirectURL: redirectURL},
	})
	b.closeAll(videoID)
}

// Error marks a video as failed, emits the terminal error event and
// closes every subscriber's channel.
func (b *Broker) Error(videoID, message string) {
	b.mu.Lock()
	if st, ok := b.states[videoID]; ok {
		st.Phase = domain.PhaseError
		st.Errors = append(st.Errors, message)
	}
	b.mu.Unlock()

	log.Log(videoID, "pipeline error reported to subscribers", "message", message)
	b.broadcast(videoID, Event{Type: EventError, VideoID: videoID, Payload: ErrorPayload{Message: message}})
	b.closeAll(videoID)
}

func (b *Broker) closeAll(videoID string) {
	b.mu.Lock()
	subs := b.subscribers[videoID]
	delete(b.subscribers, videoID)
	b.mu.Unlock()

	for _, sub := range subs {
		closeSub(sub)
	}
}

// broadcast fans an event out to every current subscriber of videoID.
func (b *Broker) broadcast(videoID string, event Event) {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subscribers[videoID]))
	for _, sub := range b.subscribers[videoID] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.sendTo(videoID, sub, event)
	}
}

// sendTo enqueues event on sub's channel with a bounded deadline,
// dropping a subscriber whose queue doesn't drain in time. A slow
// client is dropped rather than stalling the emitter, per spec.md §5.
// Holds sub.sendMu for the whole attempt so a concurrent
// unsubscribe/closeAll can't close ch underneath an in-flight send.
func (b *Broker) sendTo(videoID string, sub *subscription, event Event) {
	sub.sendMu.Lock()
	defer sub.sendMu.Unlock()
	if sub.closed {
		return
	}

	timer := b.clock.Timer(b.enqueueDeadline)
	defer timer.Stop()
	select {
	case sub.ch <- event:
		b.mu.Lock()
		sub.lastSent = b.clock.Now()
		b.mu.Unlock()
	case <-timer.C:
		log.Log(videoID, "subscriber queue full, dropping slow subscriber", "subscriber_id", sub.id)
		b.mu.Lock()
		if subs, ok := b.subscribers[videoID]; ok {
			delete(subs, sub.id)
		}
		b.mu.Unlock()
		sub.closed = true
		close(sub.ch)
	}
}

// heartbeatLoop emits a heartbeat to any subscriber that hasn't
// received an event in heartbeatPeriod, keeping SSE connections alive
// through idle proxies.
func (b *Broker) heartbeatLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.LogNoVideoID("panic in progress heartbeat loop, recovering", "err", r, "trace", string(debug.Stack()))
		}
	}()
	ticker := b.clock.Ticker(b.heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.emitHeartbeats()
		}
	}
}

func (b *Broker) emitHeartbeats() {
	now := b.clock.Now()
	b.mu.Lock()
	type idle struct {
		videoID string
		sub     *subscription
	}
	var due []idle
	for videoID, subs := range b.subscribers {
		for _, sub := range subs {
			if now.Sub(sub.lastSent) >= b.heartbeatPeriod {
				due = append(due, idle{videoID: videoID, sub: sub})
			}
		}
	}
	b.mu.Unlock()

	for _, d := range due {
		b.sendTo(d.videoID, d.sub, Event{Type: EventHeartbeat, VideoID: d.videoID})
	}
}
