package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity of the event.
// Lower values are coarser.
type Scope uint8

const (
	// ScopeSession covers project lifetime and host requests.
	ScopeSession Scope = iota + 1
	// ScopeSubscription covers one evaluate/settle/deliver iteration.
	ScopeSubscription
	// ScopeQuery covers a strongly consistent read.
	ScopeQuery
	// ScopeCell covers recomputation of a single memoized cell.
	ScopeCell
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopeSession:
		return "session"
	case ScopeSubscription:
		return "subscription"
	case ScopeQuery:
		return "query"
	case ScopeCell:
		return "cell"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time     time.Time
	Seq      uint64 // assigned by the sink, monotonic
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64 // 0 for root spans
	Name     string // e.g. "settle", "cell:entrypoints"
	Detail   string
	Extra    map[string]string
}
