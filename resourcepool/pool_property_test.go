package resourcepool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rhema-dev/coordination/clock"
)

// TestProperty_NeverOverReserves checks the pool's core invariant under
// concurrent, randomly-sized reservations: no namespace's used amount ever
// exceeds its capacity, regardless of how many goroutines race TryReserve
// against overlapping namespace sets.
func TestProperty_NeverOverReserves(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent reservations never exceed namespace capacity", prop.ForAll(
		func(capacity int, amounts []int) bool {
			p := New(clock.NewFake(time.Time{}))
			p.SetCapacity(NamespaceMemory, int64(capacity))
			p.SetCapacity(NamespaceCPU, int64(capacity))

			var wg sync.WaitGroup
			for i, amount := range amounts {
				wg.Add(1)
				go func(i, amount int) {
					defer wg.Done()
					id := fmt.Sprintf("res_%d", i)
					_ = p.TryReserve(id, "owner", []Request{
						{Namespace: NamespaceMemory, Amount: int64(amount)},
						{Namespace: NamespaceCPU, Amount: int64(amount % 3)},
					})
				}(i, amount)
			}
			wg.Wait()

			for _, snap := range p.Snapshot() {
				if snap.Used > snap.Capacity {
					t.Logf("namespace %s over capacity: used=%d capacity=%d", snap.Namespace, snap.Used, snap.Capacity)
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 500),
		gen.SliceOf(gen.IntRange(1, 50)),
	))

	properties.TestingRun(t)
}

// TestProperty_ReleaseRestoresCapacity checks that reserving and then
// releasing every reservation always returns every namespace to zero usage,
// no matter the reservation amounts.
func TestProperty_ReleaseRestoresCapacity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("releasing every reservation restores starting usage", prop.ForAll(
		func(amounts []int) bool {
			total := int64(1)
			for _, a := range amounts {
				total += int64(a)
			}

			p := New(clock.NewFake(time.Time{}))
			p.SetCapacity(NamespaceMemory, total)

			ids := make([]string, len(amounts))
			for i, amount := range amounts {
				id := fmt.Sprintf("res_%d", i)
				ids[i] = id
				if err := p.TryReserve(id, "owner", []Request{
					{Namespace: NamespaceMemory, Amount: int64(amount)},
				}); err != nil {
					t.Logf("TryReserve failed: %v", err)
					return false
				}
			}

			for _, id := range ids {
				if err := p.Release(id); err != nil {
					t.Logf("Release failed: %v", err)
					return false
				}
			}

			for _, snap := range p.Snapshot() {
				if snap.Used != 0 {
					t.Logf("namespace %s left with nonzero usage %d after full release", snap.Namespace, snap.Used)
					return false
				}
			}
			if p.OutstandingReservations() != 0 {
				t.Logf("expected zero outstanding reservations, got %d", p.OutstandingReservations())
				return false
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 10)),
	))

	properties.TestingRun(t)
}
