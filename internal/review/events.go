package review

// EventType names a review event as published to observers.
type EventType string

const (
	EventImageList        EventType = "image_list"
	EventPrediction       EventType = "prediction_result"
	EventConsensusFound   EventType = "consensus_found"
	EventConsensusFailed  EventType = "consensus_failed"
	EventTrainingStarted  EventType = "training_started"
	EventTrainingFinished EventType = "training_finished"
	EventError            EventType = "error"
	EventAllDone          EventType = "all_done"
)

// Event is one step of a review session.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`

	Images     []string `json:"images,omitempty"`
	Image      string   `json:"image_name,omitempty"`
	Attempt    int      `json:"attempt,omitempty"`
	Prediction string   `json:"prediction,omitempty"` // empty when the sample could not be solved
	Label      string   `json:"consensus_label,omitempty"`
	Votes      int      `json:"votes,omitempty"`
	NewName    string   `json:"new_filename,omitempty"`
	Message    string   `json:"message,omitempty"`
}
