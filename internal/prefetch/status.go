package prefetch

import "fmt"

// StatusCode is the terminal outcome reported for a prefetch.
type StatusCode int

const (
	StatusResponseCompleted StatusCode = iota
	StatusStartFailedDuplicate
	StatusResponseServerError
	StatusResponseGenericError
	StatusStartFailed
)

var statusNames = map[StatusCode]string{
	StatusResponseCompleted:    "PREFETCH_RESPONSE_COMPLETED",
	StatusStartFailedDuplicate: "PREFETCH_START_FAILED_DUPLICATE",
	StatusResponseServerError:  "PREFETCH_RESPONSE_SERVER_ERROR",
	StatusResponseGenericError: "PREFETCH_RESPONSE_GENERIC_ERROR",
	StatusStartFailed:          "PREFETCH_START_FAILED",
}

func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("PREFETCH_STATUS(%d)", int(s))
}

// MarshalText renders the status name in JSON and logs.
func (s StatusCode) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is the lifecycle state of a prefetch entry.
type State int

const (
	StateQueued State = iota
	StateInFlight
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateInFlight:
		return "in_flight"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Extras keys attached to status results.
const (
	ExtraHTTPResponseCode = "http_response_code"
	ExtraMIMEType         = "mime_type"
	ExtraError            = "error"
)

// Result is delivered exactly once for every terminal prefetch. Err is set
// for validation failures only; every other outcome is a Status.
type Result struct {
	Status StatusCode
	Extras map[string]string
	Err    error
}

// IsError reports whether the result took the error branch.
func (r Result) IsError() bool {
	return r.Err != nil
}
