package chat

type State int32

const (
	StateAwaitingMessage State = iota
	StateResolvingSession
	StateBuildingContext
	StateRetrieving
	StateGenerating
	StateReplying
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateAwaitingMessage:
		return "awaiting_message"
	case StateResolvingSession:
		return "resolving_session"
	case StateBuildingContext:
		return "building_context"
	case StateRetrieving:
		return "retrieving"
	case StateGenerating:
		return "generating"
	case StateReplying:
		return "replying"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
