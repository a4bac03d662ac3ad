package types

import "context"

// TaskPriority orders scheduled work. Higher values run first. The bands
// mirror the urgency classes the host distinguishes, from background index
// maintenance up to work a user is actively waiting on.
type TaskPriority int

// Priority bands, lowest to highest.
const (
	PriorityBackground    TaskPriority = 10
	PriorityLow           TaskPriority = 20
	PriorityMedium        TaskPriority = 30
	PriorityHigh          TaskPriority = 40
	PriorityUserInitiated TaskPriority = 50
)

// String returns the band name, or "unknown" for values outside the bands.
func (p TaskPriority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUserInitiated:
		return "userInitiated"
	default:
		return "unknown"
	}
}

// PriorityFromString parses a band name. Unrecognized names map to
// PriorityLow, the band used for deferrable work.
func PriorityFromString(name string) TaskPriority {
	switch name {
	case "background":
		return PriorityBackground
	case "low":
		return PriorityLow
	case "medium":
		return PriorityMedium
	case "high":
		return PriorityHigh
	case "userInitiated", "user-initiated":
		return PriorityUserInitiated
	default:
		return PriorityLow
	}
}

// priorityContextKey is a private type for the priority context value to
// avoid collisions with keys from other packages.
type priorityContextKey struct{}

// ContextWithPriority tags a context with the priority of the work it
// carries. Awaiting a scheduled task through such a context lets the
// scheduler inherit the waiter's priority.
func ContextWithPriority(ctx context.Context, p TaskPriority) context.Context {
	return context.WithValue(ctx, priorityContextKey{}, p)
}

// PriorityFromContext returns the priority carried by the context and whether
// one was set.
func PriorityFromContext(ctx context.Context) (TaskPriority, bool) {
	p, ok := ctx.Value(priorityContextKey{}).(TaskPriority)
	return p, ok
}
