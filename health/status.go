// Package health reports the health of an rtlink node: its components, its
// connections and its broker connection, aggregated into one tree.
package health

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/c360/rtlink/component"
	"github.com/c360/rtlink/connector"
)

// Health states
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Pre-compiled patterns for error message sanitization
var (
	urlRegex        = regexp.MustCompile(`(https?|nats|wss?|tcp|inproc)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`(^|\s)/[a-zA-Z0-9/_.-]+`)
	ipPortRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(:\d{1,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health of one node part
type Status struct {
	Component   string            `json:"component"`
	Healthy     bool              `json:"healthy"`
	Status      string            `json:"status"`
	Message     string            `json:"message"`
	Timestamp   time.Time         `json:"timestamp"`
	Details     map[string]string `json:"details,omitempty"`
	SubStatuses []Status          `json:"sub_statuses,omitempty"`
}

func newStatus(name, state, message string) Status {
	return Status{
		Component: name,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status
func NewHealthy(name, message string) Status { return newStatus(name, StateHealthy, message) }

// NewDegraded creates a degraded status
func NewDegraded(name, message string) Status { return newStatus(name, StateDegraded, message) }

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(name, message string) Status { return newStatus(name, StateUnhealthy, message) }

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithDetail returns a copy carrying key=value
func (s Status) WithDetail(key, value string) Status {
	details := make(map[string]string, len(s.Details)+1)
	for k, v := range s.Details {
		details[k] = v
	}
	details[key] = value
	s.Details = details
	return s
}

// Aggregate folds sub-statuses into one: unhealthy if any is unhealthy,
// otherwise degraded if any is degraded, otherwise healthy
func Aggregate(name string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(name, "nothing to report")
	}

	hasUnhealthy, hasDegraded := false, false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(name, "one or more parts are unhealthy")
	case hasDegraded:
		status = NewDegraded(name, "one or more parts are degraded")
	default:
		status = NewHealthy(name, "all parts are healthy")
	}
	status.SubStatuses = append([]Status(nil), subStatuses...)
	return status
}

// sanitizeErrorMessage strips addresses, paths and credentials from error text
// before it is served to operators
func sanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = unixPathRegex.ReplaceAllString(msg, "$1[PATH]")
	msg = ipPortRegex.ReplaceAllString(msg, "[ADDR]")
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") || strings.Contains(lower, "credential") {
		msg = credentialRegex.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}

// FromComponent reports a component: alive is healthy, created is degraded
// and finalized is unhealthy
func FromComponent(c *component.Component) Status {
	var s Status
	switch st := c.State(); st {
	case component.StateAlive:
		s = NewHealthy(c.Name(), "alive")
	case component.StateCreated:
		s = NewDegraded(c.Name(), "not initialized")
	default:
		s = NewUnhealthy(c.Name(), st.String())
	}
	return s.WithDetail("ports", strconv.Itoa(len(c.Ports())))
}

// FromConnector reports a connector: active without a recorded error is
// healthy, active with one is degraded, anything else is unhealthy
func FromConnector(name string, c *connector.Connector) Status {
	var s Status
	lastErr := c.LastError()
	switch {
	case c.State() != connector.StateActive:
		s = NewUnhealthy(name, "connector "+c.State().String())
	case lastErr != nil:
		s = NewDegraded(name, sanitizeErrorMessage(lastErr.Error()))
	default:
		s = NewHealthy(name, "active")
	}

	var messages, drops uint64
	links := c.Links()
	for _, l := range links {
		messages += l.Messages
		drops += l.Drops
	}
	return s.WithDetail("role", c.Role().String()).
		WithDetail("links", strconv.Itoa(len(links))).
		WithDetail("messages", strconv.FormatUint(messages, 10)).
		WithDetail("drops", strconv.FormatUint(drops, 10))
}
