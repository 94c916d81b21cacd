package capacity

import (
	"sync"

	"github.com/srand/fgmachine/pkg/log"
)

// CostTable resolves the capacity cost of one running experiment of a project.
type CostTable interface {
	Cost(projectID string) (int, bool)
}

// Ledger tracks the remaining admission budget of the machine.
//
// The budget is a single pool shared by all projects. A project's cost is
// deducted from it for every admitted experiment and returned on release.
type Ledger struct {
	mu        sync.Mutex
	costs     CostTable
	available int
	max       int
}

func NewLedger(max int, costs CostTable) *Ledger {
	if max < 0 {
		max = 0
	}
	return &Ledger{
		costs:     costs,
		available: max,
		max:       max,
	}
}

// Reserve deducts the project's cost from the pool if at least one more
// experiment of the project fits. Returns false for unknown projects.
func (l *Ledger) Reserve(projectID string) bool {
	cost, ok := l.cost(projectID)
	if !ok {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.available/cost < 1 {
		return false
	}

	l.available -= cost
	log.Tracef("Reserved %d for project %s, %d/%d available", cost, projectID, l.available, l.max)
	return true
}

// Release returns the project's cost to the pool. It must be called once
// for every successful Reserve.
func (l *Ledger) Release(projectID string) {
	cost, ok := l.cost(projectID)
	if !ok {
		log.Warn("Release for unknown project ignored:", projectID)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.available += cost
	if l.available > l.max {
		log.Warnf("Capacity released beyond maximum for project %s, clamping to %d", projectID, l.max)
		l.available = l.max
	}
	log.Tracef("Released %d for project %s, %d/%d available", cost, projectID, l.available, l.max)
}

// Query returns how many more experiments of the project could be
// admitted right now. Unknown projects have no capacity.
func (l *Ledger) Query(projectID string) int {
	cost, ok := l.cost(projectID)
	if !ok {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available / cost
}

// Available returns the unreserved budget.
func (l *Ledger) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

func (l *Ledger) Max() int {
	return l.max
}

func (l *Ledger) cost(projectID string) (int, bool) {
	cost, ok := l.costs.Cost(projectID)
	if !ok || cost <= 0 {
		return 0, false
	}
	return cost, true
}
