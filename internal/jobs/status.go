// Package jobs tracks the crawl lifecycle of every submitted domain and owns
// the chat-ready instance built for each completed one.
package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/sitechat/internal/crawler"
)

// State is a domain's position in the crawl lifecycle.
type State string

// Lifecycle states.
const (
	StateAbsent     State = "absent"
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

var (
	// ErrDomainNotReady is returned when a domain has no chat-ready instance.
	ErrDomainNotReady = errors.New("domain not ready")
	// ErrInvalidDomain is returned for inputs that are not a host name.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrNotQueued is returned by Run when the domain was not admitted.
	ErrNotQueued = errors.New("domain not queued")
	// ErrStatusNotFound is returned by a Store that has never been saved.
	ErrStatusNotFound = errors.New("status table not found")
)

// Status is a state plus the failure reason when State is StateFailed.
type Status struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// String renders the persisted form: "completed", "failed: <reason>".
func (s Status) String() string {
	if s.State == StateFailed && s.Reason != "" {
		return fmt.Sprintf("%s: %s", StateFailed, s.Reason)
	}
	if s.State == "" {
		return string(StateAbsent)
	}
	return string(s.State)
}

// Active reports whether a new submission must be rejected.
func (s Status) Active() bool {
	switch s.State {
	case StateQueued, StateProcessing, StateCompleted:
		return true
	default:
		return false
	}
}

// ParseStatus reverses Status.String.
func ParseStatus(raw string) (Status, error) {
	if reason, ok := strings.CutPrefix(raw, string(StateFailed)+":"); ok {
		return Status{State: StateFailed, Reason: strings.TrimSpace(reason)}, nil
	}
	switch State(raw) {
	case StateAbsent, StateQueued, StateProcessing, StateCompleted, StateFailed:
		return Status{State: State(raw)}, nil
	}
	return Status{}, fmt.Errorf("unknown status %q", raw)
}

// Admission is the outcome of a submission.
type Admission string

// Admission outcomes.
const (
	Accepted      Admission = "accepted"
	AlreadyActive Admission = "already_active"
)

// Event is published on every state transition.
type Event struct {
	Domain string    `json:"domain"`
	State  State     `json:"state"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// NormalizeDomain reduces user input to a lowercase host, accepting a bare
// host or an absolute URL.
func NormalizeDomain(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDomain)
	}
	host := crawler.HostOf(raw)
	if host == "" || strings.ContainsAny(host, "/ \t?#@") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	return host, nil
}
