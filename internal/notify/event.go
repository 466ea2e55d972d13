package notify

// Event names pushed over the notification channel.
const (
	EventEmergencyAlert    = "emergency-alert"
	EventTriggerAccepted   = "trigger-accepted"
	EventResponderAssigned = "responder-assigned"
	EventTriggerUpdated    = "trigger-updated"
	EventTriggerCancelled  = "trigger-cancelled"
	EventResponseUpdated   = "response-updated"
)

// TopicResponders addresses every connected responder (and admins watching
// the dispatch board).
const TopicResponders = "responders"

// UserTopic addresses the individual user who raised a trigger.
func UserTopic(userID string) string {
	return "user:" + userID
}

// Event is one notification published by the coordinator. Delivery is
// best-effort and fire-and-forget; a committed state transition never waits
// on, or is rolled back by, the transport.
type Event struct {
	Name    string `json:"event"`
	Topic   string `json:"-"`
	Payload any    `json:"payload"`
}

// Publisher is the coordinator's view of the notification channel.
type Publisher interface {
	Publish(e Event)
}
