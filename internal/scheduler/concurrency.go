package scheduler

import (
	"runtime"

	hosterrors "github.com/conneroisu/lsphost/internal/errors"
	"github.com/conneroisu/lsphost/internal/types"
)

// ConcurrencyLimit caps the summed estimated core count of executing tasks
// when admitting a task whose priority is at or above Priority, up to the
// next higher entry of the table; the last entry also covers every priority
// below it.
type ConcurrencyLimit struct {
	Priority           types.TaskPriority
	MaxConcurrentTasks int
}

// MaxConcurrencyTable is an ordered sequence of concurrency limits, sorted by
// priority descending with weakly descending caps. Lower-priority work gets
// fewer slots so capacity stays available for urgent arrivals.
type MaxConcurrencyTable []ConcurrencyLimit

// Validate checks the table's structural invariants: non-empty, priorities
// strictly descending, caps positive and weakly descending.
func (t MaxConcurrencyTable) Validate() error {
	if len(t) == 0 {
		return hosterrors.NewCallerError("concurrency table", "table must not be empty")
	}
	for i, entry := range t {
		if entry.MaxConcurrentTasks < 1 {
			return hosterrors.NewCallerError("concurrency table", "cap at %s must be >= 1, got %d", entry.Priority, entry.MaxConcurrentTasks)
		}
		if i == 0 {
			continue
		}
		if entry.Priority >= t[i-1].Priority {
			return hosterrors.NewCallerError("concurrency table", "priorities must be strictly descending")
		}
		if entry.MaxConcurrentTasks > t[i-1].MaxConcurrentTasks {
			return hosterrors.NewCallerError("concurrency table", "caps must be weakly descending")
		}
	}
	return nil
}

// CapAt returns the effective concurrency cap at the given priority: the cap
// of the first entry whose priority is at or below p, or the last entry's cap
// if none matches.
func (t MaxConcurrencyTable) CapAt(p types.TaskPriority) int {
	for _, entry := range t {
		if entry.Priority <= p {
			return entry.MaxConcurrentTasks
		}
	}
	return t[len(t)-1].MaxConcurrentTasks
}

// DefaultTestTable is the table a scheduler constructed for testing uses:
// a single low-priority band capped at the logical core count.
func DefaultTestTable() MaxConcurrencyTable {
	return MaxConcurrencyTable{{Priority: types.PriorityLow, MaxConcurrentTasks: runtime.NumCPU()}}
}
