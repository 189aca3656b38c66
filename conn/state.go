package conn

import "github.com/neobolt/driver/message"

// State is the driver's mirror of the server's connection state machine
// (spec.md §4.4).
type State int

const (
	Disconnected State = iota
	Negotiating
	Authenticating
	Ready
	Streaming
	TxReady
	TxStreaming
	Failed
	Defunct
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Negotiating:
		return "Negotiating"
	case Authenticating:
		return "Authenticating"
	case Ready:
		return "Ready"
	case Streaming:
		return "Streaming"
	case TxReady:
		return "TxReady"
	case TxStreaming:
		return "TxStreaming"
	case Failed:
		return "Failed"
	case Defunct:
		return "Defunct"
	}
	return "Unknown"
}

// legalFrom lists, for each state, the message tags the driver may send
// from it (spec.md §4.4's transition diagram and the Streaming/TxStreaming
// "only PULL/DISCARD/RESET" rule from the glossary).
var legalFrom = map[State]map[byte]bool{
	Authenticating: set(message.TagHello, message.TagLogon),
	Ready:          set(message.TagBegin, message.TagRun, message.TagReset, message.TagGoodbye, message.TagLogoff),
	Streaming:      set(message.TagPull, message.TagDiscard, message.TagReset),
	TxReady:        set(message.TagRun, message.TagCommit, message.TagRollback, message.TagReset, message.TagGoodbye),
	TxStreaming:    set(message.TagPull, message.TagDiscard, message.TagReset),
	Failed:         set(message.TagReset, message.TagGoodbye),
}

func set(tags ...byte) map[byte]bool {
	m := make(map[byte]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}

// IsLegal reports whether sending a message tagged tag is legal from state.
func IsLegal(state State, tag byte) bool {
	allowed, ok := legalFrom[state]
	if !ok {
		return false
	}
	return allowed[tag]
}

// successTransition gives the state to enter after a successful
// (non-FAILURE, non-IGNORED) terminal response to a message sent from a
// given state.
var successTransition = map[State]map[byte]State{
	Authenticating: {message.TagHello: Authenticating, message.TagLogon: Ready},
	Ready:          {message.TagBegin: TxReady, message.TagRun: Streaming, message.TagReset: Ready, message.TagLogoff: Ready},
	Streaming:      {message.TagPull: Ready, message.TagDiscard: Ready},
	TxReady:        {message.TagRun: TxStreaming, message.TagCommit: Ready, message.TagRollback: Ready, message.TagReset: Ready},
	TxStreaming:    {message.TagPull: TxReady, message.TagDiscard: TxReady},
	Failed:         {message.TagReset: Ready},
}

// NextState returns the state reached after a successful terminal response
// to tag, sent while in state. The bool is false if the transition is
// undefined (a programming error, since IsLegal should have been checked
// first).
func NextState(state State, tag byte) (State, bool) {
	byTag, ok := successTransition[state]
	if !ok {
		return state, false
	}
	next, ok := byTag[tag]
	return next, ok
}
