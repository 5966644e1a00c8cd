package subscribe

// State is the lifecycle position of a subscription.
type State int32

const (
	StateIdle State = iota
	StateEvaluating
	StateSettling
	StateDelivering
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEvaluating:
		return "evaluating"
	case StateSettling:
		return "settling"
	case StateDelivering:
		return "delivering"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
