package frontend

import (
	"errors"
	"sync"
)

// RequestKind is what the frontend is currently waiting for.
type RequestKind int

const (
	NoRequest RequestKind = iota
	InstructionsRequest
	UserInputRequest
	AcknowledgmentRequest
)

func (k RequestKind) String() string {
	switch k {
	case InstructionsRequest:
		return "instructions"
	case UserInputRequest:
		return "user input"
	case AcknowledgmentRequest:
		return "acknowledgment"
	default:
		return "none"
	}
}

// ErrRequestPending is returned when a second request is opened while one is
// still outstanding.
var ErrRequestPending = errors.New("another request is already pending")

// Notices shown when a request is satisfied.
const (
	InstructionsSubmittedNotice = "Instructions submitted"
	AcknowledgedNotice          = "Acknowledged by user"
	IgnoredInputNotice          = "No input requested; ignored"
)

// requests tracks the one outstanding request of a frontend.
type requests struct {
	mu      sync.Mutex
	kind    RequestKind
	promise *Promise[string]
}

func (r *requests) open(kind RequestKind) (*Promise[string], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.promise != nil {
		return nil, ErrRequestPending
	}
	r.kind = kind
	r.promise = NewPromise[string]()
	return r.promise, nil
}

// close forgets p if it is still the outstanding request.
func (r *requests) close(p *Promise[string]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.promise == p {
		r.promise = nil
		r.kind = NoRequest
	}
}

// submit resolves the outstanding request with text. It reports the kind that
// was satisfied, or false when nothing was pending.
func (r *requests) submit(text string) (RequestKind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.promise == nil {
		return NoRequest, false
	}
	kind := r.kind
	ok := r.promise.Resolve(text)
	r.promise = nil
	r.kind = NoRequest
	return kind, ok
}

func (r *requests) current() RequestKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kind
}

// noticeFor is the system line confirming a satisfied request, if any.
func noticeFor(kind RequestKind) string {
	switch kind {
	case InstructionsRequest:
		return InstructionsSubmittedNotice
	case AcknowledgmentRequest:
		return AcknowledgedNotice
	default:
		return ""
	}
}
