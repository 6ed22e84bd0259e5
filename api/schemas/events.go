package schemas

import "time"

// Phase names the lifecycle step that emitted an event.
type Phase string

const (
	PhaseStartup  Phase = "startup"
	PhaseLogin    Phase = "login"
	PhaseLocate   Phase = "locate"
	PhaseGraphics Phase = "graphics"
	PhaseTables   Phase = "tables"
	PhasePage     Phase = "page"
	PhaseShutdown Phase = "shutdown"
)

func (p Phase) String() string { return string(p) }

// Event is a human-readable progress notification.
type Event struct {
	Time    time.Time `json:"time"`
	Phase   Phase     `json:"phase"`
	Message string    `json:"message"`
	// Error tags events emitted on an error path (page errors, panic teardown).
	Error bool `json:"error,omitempty"`
}
