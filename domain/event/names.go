package event

// Local event names emitted by chats and entities.
const (
	Ready       = "ready"
	Join        = "join"
	Leave       = "leave"
	Timeout     = "timeout"
	StateChange = "state-change"
	StateUpdate = "state-update"
	Message     = "message"
)
