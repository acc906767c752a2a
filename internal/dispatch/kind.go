package dispatch

import "fmt"

// Kind classifies a chunk dispatch failure.
type Kind string

const (
	KindTimeout          Kind = "timeout"
	KindRateLimited      Kind = "rate_limited"
	KindTransientServer  Kind = "transient_server"
	KindUnauthorized     Kind = "unauthorized"
	KindUnsupportedInput Kind = "unsupported_input"
	KindCancelled        Kind = "cancelled"
	KindEngine           Kind = "engine"    // Engine error that matches no other kind; not retried
	KindExhausted        Kind = "exhausted" // Retryable failures used up every attempt
)

// Retryable reports whether another attempt may change the outcome.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindTransientServer:
		return true
	}
	return false
}

// severity orders kinds for picking a document's worst failure.
// Configuration-like failures rank above transient ones.
var severity = map[Kind]int{
	KindTimeout:          1,
	KindRateLimited:      2,
	KindTransientServer:  3,
	KindExhausted:        4,
	KindEngine:           5,
	KindUnsupportedInput: 6,
	KindCancelled:        7,
	KindUnauthorized:     8,
}

// Worse returns whichever of a and b is more severe. The empty kind ranks lowest.
func Worse(a, b Kind) Kind {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// Failure is the failure arm of an Outcome.
type Failure struct {
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

func (f *Failure) Error() string {
	if f.Attempts == 1 {
		return fmt.Sprintf("%s after 1 attempt: %s", f.Kind, f.Message)
	}
	return fmt.Sprintf("%s after %d attempts: %s", f.Kind, f.Attempts, f.Message)
}
