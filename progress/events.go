package progress

import "github.com/GabrielJuan349/occultashield/domain"

// EventType names the typed SSE events the broker emits, per
// spec.md §6's live progress channel contract. complete and error are
// terminal: the consumer closes its connection on either.
type EventType string

const (
	EventInitialState EventType = "initial_state"
	EventPhaseChange  EventType = "phase_change"
	EventProgress     EventType = "progress"
	EventDetection    EventType = "detection"
	EventVerification EventType = "verification"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
	EventHeartbeat    EventType = "heartbeat"
)

// Event is one item on a subscriber's queue: a name plus a JSON-ready
// payload.
type Event struct {
	Type    EventType
	VideoID string
	Payload interface{}
}

// PhaseChangePayload accompanies EventPhaseChange.
type PhaseChangePayload struct {
	Phase         domain.Phase `json:"phase"`
	PreviousPhase domain.Phase `json:"previous_phase"`
	Message       string       `json:"message"`
}

// ProgressPayload accompanies EventProgress.
type ProgressPayload struct {
	Phase    domain.Phase `json:"phase"`
	Progress float64      `json:"progress"`
	Current  int          `json:"current"`
	Total    int          `json:"total"`
	Message  string       `json:"message"`
}

// DetectionPayload accompanies EventDetection.
type DetectionPayload struct {
	DetectionType domain.DetectionType `json:"detection_type"`
	Count         int                  `json:"count"`
	Frame         int64                `json:"frame_number"`
	Confidence    float64              `json:"confidence"`
	Message       string               `json:"message"`
}

// VerificationPayload accompanies EventVerification.
type VerificationPayload struct {
	TrackID         string `json:"track_id"`
	AgentsCompleted int    `json:"agents_completed"`
	TotalAgents     int    `json:"total_agents"`
	Message         string `json:"message"`
}

// CompletePayload accompanies EventComplete.
type CompletePayload struct {
	TotalDetections int    `json:"total_vulnerabilities"`
	TotalViolations int    `json:"total_violations"`
	RedirectURL     string `json:"redirect_url"`
}

// ErrorPayload accompanies EventError.
type ErrorPayload struct {
	Message string `json:"message"`
}
