// Package resourcepool implements the Resource Pool: atomic multi-namespace
// reservation with a fixed canonical lock order to prevent deadlocks across
// concurrent try_reserve calls.
package resourcepool

import (
	"sort"
	"sync"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/coorderr"
)

// Namespace identifies a resource pool: the three built-ins plus an
// open-ended set of custom, operator-defined namespaces.
type Namespace string

const (
	NamespaceMemory  Namespace = "memory"
	NamespaceCPU     Namespace = "cpu"
	NamespaceNetwork Namespace = "network"
)

// namespaceOrder fixes the canonical lock acquisition order required to
// reserve across multiple namespaces without deadlocking: memory, then
// CPU, then network, then any custom namespaces in lexicographic order.
func namespaceOrder(ns []Namespace) []Namespace {
	rank := map[Namespace]int{NamespaceMemory: 0, NamespaceCPU: 1, NamespaceNetwork: 2}
	ordered := append([]Namespace(nil), ns...)
	sort.Slice(ordered, func(i, j int) bool {
		ri, iOK := rank[ordered[i]]
		rj, jOK := rank[ordered[j]]
		switch {
		case iOK && jOK:
			return ri < rj
		case iOK:
			return true
		case jOK:
			return false
		default:
			return ordered[i] < ordered[j]
		}
	})
	return ordered
}

// Request is one namespace's requested reservation amount.
type Request struct {
	Namespace Namespace
	Amount    int64
}

// reservation records what a single try_reserve call holds, so Release can
// give back exactly what was taken.
type reservation struct {
	id     string
	owner  string
	held   map[Namespace]int64
	bornAt int64
}

// namespacePool is one namespace's capacity and its own lock, guarding
// only that namespace's accounting.
type namespacePool struct {
	mu       sync.Mutex
	capacity int64
	used     int64
}

// Pool holds one namespacePool per namespace plus the reservation ledger
// needed to make Release idempotent and Snapshot accurate.
type Pool struct {
	poolsMu sync.Mutex
	pools   map[Namespace]*namespacePool

	ledgerMu sync.Mutex
	ledger   map[string]*reservation

	clock clock.Clock
}

// New builds an empty Pool. Namespace capacities are set with SetCapacity
// before any reservation against them will succeed.
func New(clk clock.Clock) *Pool {
	return &Pool{
		pools:  make(map[Namespace]*namespacePool),
		ledger: make(map[string]*reservation),
		clock:  clk,
	}
}

// SetCapacity fixes ns's total capacity. Safe to call before or after
// reservations exist against other namespaces.
func (p *Pool) SetCapacity(ns Namespace, capacity int64) {
	p.poolsMu.Lock()
	defer p.poolsMu.Unlock()
	np, ok := p.pools[ns]
	if !ok {
		np = &namespacePool{}
		p.pools[ns] = np
	}
	np.capacity = capacity
}

func (p *Pool) namespacePoolFor(ns Namespace) *namespacePool {
	p.poolsMu.Lock()
	defer p.poolsMu.Unlock()
	np, ok := p.pools[ns]
	if !ok {
		np = &namespacePool{}
		p.pools[ns] = np
	}
	return np
}

// TryReserve attempts to reserve every request atomically: either all
// requested amounts are granted, or none are, and no partial reservation
// is ever visible to another caller. Namespace locks are acquired in the
// fixed canonical order regardless of the order requests were given in, so
// two concurrent TryReserve calls over overlapping namespace sets can
// never deadlock against each other.
func (p *Pool) TryReserve(id, owner string, reqs []Request) error {
	if len(reqs) == 0 {
		return coorderr.New(coorderr.CodeInvalidSpec, "reservation request set must not be empty").WithTarget(id)
	}

	byNamespace := make(map[Namespace]int64, len(reqs))
	nsSet := make([]Namespace, 0, len(reqs))
	for _, r := range reqs {
		if _, seen := byNamespace[r.Namespace]; !seen {
			nsSet = append(nsSet, r.Namespace)
		}
		byNamespace[r.Namespace] += r.Amount
	}
	ordered := namespaceOrder(nsSet)

	locked := make([]*namespacePool, 0, len(ordered))
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}()

	for _, ns := range ordered {
		np := p.namespacePoolFor(ns)
		np.mu.Lock()
		locked = append(locked, np)
	}

	for i, ns := range ordered {
		np := locked[i]
		want := byNamespace[ns]
		if np.used+want > np.capacity {
			return coorderr.New(coorderr.CodeInsufficientResources, "namespace lacks capacity for this reservation").
				WithTarget(string(ns))
		}
	}

	held := make(map[Namespace]int64, len(ordered))
	for i, ns := range ordered {
		np := locked[i]
		np.used += byNamespace[ns]
		held[ns] = byNamespace[ns]
	}

	p.ledgerMu.Lock()
	p.ledger[id] = &reservation{id: id, owner: owner, held: held, bornAt: p.clock.Monotonic()}
	p.ledgerMu.Unlock()
	return nil
}

// Release gives back everything held under id. Idempotent: releasing an
// id that was already released, or never existed, succeeds without
// effect.
func (p *Pool) Release(id string) error {
	p.ledgerMu.Lock()
	res, ok := p.ledger[id]
	if ok {
		delete(p.ledger, id)
	}
	p.ledgerMu.Unlock()
	if !ok {
		return nil
	}

	nsSet := make([]Namespace, 0, len(res.held))
	for ns := range res.held {
		nsSet = append(nsSet, ns)
	}
	ordered := namespaceOrder(nsSet)

	locked := make([]*namespacePool, 0, len(ordered))
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}()
	for _, ns := range ordered {
		np := p.namespacePoolFor(ns)
		np.mu.Lock()
		locked = append(locked, np)
	}
	for i, ns := range ordered {
		locked[i].used -= res.held[ns]
	}
	return nil
}

// NamespaceSnapshot is one namespace's capacity/usage at snapshot time.
type NamespaceSnapshot struct {
	Namespace Namespace
	Capacity  int64
	Used      int64
}

// Snapshot returns current capacity and usage for every namespace that has
// ever had a capacity set or a reservation made against it.
func (p *Pool) Snapshot() []NamespaceSnapshot {
	p.poolsMu.Lock()
	names := make([]Namespace, 0, len(p.pools))
	for ns := range p.pools {
		names = append(names, ns)
	}
	p.poolsMu.Unlock()

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	out := make([]NamespaceSnapshot, 0, len(names))
	for _, ns := range names {
		np := p.namespacePoolFor(ns)
		np.mu.Lock()
		out = append(out, NamespaceSnapshot{Namespace: ns, Capacity: np.capacity, Used: np.used})
		np.mu.Unlock()
	}
	return out
}

// OutstandingReservations reports the number of reservations currently
// held, for the metrics gauge of the same name.
func (p *Pool) OutstandingReservations() int {
	p.ledgerMu.Lock()
	defer p.ledgerMu.Unlock()
	return len(p.ledger)
}
