package domain

import "time"

type Action string

const (
	ActionJoin        Action = "join"
	ActionLeave       Action = "leave"
	ActionTimeout     Action = "timeout"
	ActionStateChange Action = "state-change"
)

// PresenceEvent reports that a remote identity joined, left, timed out
// or changed its state on a channel.
type PresenceEvent struct {
	Channel   string    `json:"channel"`
	Identity  string    `json:"identity"`
	Action    Action    `json:"action"`
	State     State     `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Occupant is one entry of a presence query.
type Occupant struct {
	Identity string `json:"identity"`
	State    State  `json:"state,omitempty"`
}
