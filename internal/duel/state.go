package duel

// SessionState represents the state machine for a player connection.
type SessionState int

const (
	StateIdle    SessionState = iota // connected, no game affiliation
	StateWaiting                     // created a game, awaiting a partner
	StatePlaying                     // paired with a partner in a running game
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaiting:
		return "WAITING"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}
