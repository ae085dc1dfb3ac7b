// Package balancer implements the Load Balancer: candidate filtering plus
// five selection strategies over a set of eligible agents.
package balancer

import (
	"sort"
	"sync"
	"time"

	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

// Strategy names a selection algorithm.
type Strategy string

const (
	RoundRobin         Strategy = "round_robin"
	LeastConnections   Strategy = "least_connections"
	WeightedRoundRobin Strategy = "weighted_round_robin"
	LeastResponseTime  Strategy = "least_response_time"
	CapabilityAffinity Strategy = "capability_affinity"
)

// responseSampleLimit bounds LeastResponseTime's rolling average to the
// last 32 samples.
const responseSampleLimit = 32

// Candidate is everything a strategy needs to know about one agent to score
// it, assembled by the caller from the registry, mailbox, and breaker.
type Candidate struct {
	AgentID      string
	Status       model.AgentStatus
	CircuitOpen  bool
	MailboxDepth int
	Weight       int
	Capabilities map[string]struct{}
}

// eligible reports whether c may be selected at all: status Idle or Busy,
// and its circuit breaker not Open.
func (c Candidate) eligible() bool {
	return (c.Status == model.AgentIdle || c.Status == model.AgentBusy) && !c.CircuitOpen
}

// Balancer selects one agent from a candidate set per a configured
// strategy. It holds the small amount of cross-call state the stateful
// strategies need (round-robin cursor, weighted counters, response time
// history).
type Balancer struct {
	mu       sync.Mutex
	strategy Strategy

	rrCursor      int
	wrrCurrent    map[string]int
	responseTimes map[string][]time.Duration
}

// New builds a Balancer using strategy as the default selection algorithm.
func New(strategy Strategy) *Balancer {
	return &Balancer{
		strategy:      strategy,
		wrrCurrent:    make(map[string]int),
		responseTimes: make(map[string][]time.Duration),
	}
}

// RecordResponseTime appends a latency sample for agentID, keeping only the
// most recent responseSampleLimit samples for LeastResponseTime scoring.
func (b *Balancer) RecordResponseTime(agentID string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	samples := append(b.responseTimes[agentID], d)
	if len(samples) > responseSampleLimit {
		samples = samples[len(samples)-responseSampleLimit:]
	}
	b.responseTimes[agentID] = samples
}

func (b *Balancer) averageResponseTime(agentID string) time.Duration {
	samples := b.responseTimes[agentID]
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}

// Select picks one agent id from candidates for required capabilities,
// using the balancer's configured strategy. Returns NoEligibleAgent if no
// candidate qualifies.
func (b *Balancer) Select(candidates []Candidate, required []string) (string, error) {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.eligible() {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return "", coorderr.New(coorderr.CodeNoEligibleAgent, "no candidate is eligible for dispatch")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.strategy {
	case RoundRobin:
		return b.roundRobinLocked(eligible), nil
	case LeastConnections:
		return b.leastConnectionsLocked(eligible), nil
	case WeightedRoundRobin:
		return b.weightedRoundRobinLocked(eligible), nil
	case LeastResponseTime:
		return b.leastResponseTimeLocked(eligible), nil
	case CapabilityAffinity:
		return b.capabilityAffinityLocked(eligible, required), nil
	default:
		return "", coorderr.New(coorderr.CodeInvalidConfiguration, "unknown load balancer strategy")
	}
}

func sortedByID(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (b *Balancer) roundRobinLocked(candidates []Candidate) string {
	ordered := sortedByID(candidates)
	idx := b.rrCursor % len(ordered)
	b.rrCursor++
	return ordered[idx].AgentID
}

// leastConnectionsLocked picks the candidate with the fewest queued
// messages. Ties are broken by lower average response time, then by id.
func (b *Balancer) leastConnectionsLocked(candidates []Candidate) string {
	ordered := sortedByID(candidates)
	best := ordered[0]
	bestAvg := b.averageResponseTime(best.AgentID)
	for _, c := range ordered[1:] {
		switch {
		case c.MailboxDepth < best.MailboxDepth:
			best, bestAvg = c, b.averageResponseTime(c.AgentID)
		case c.MailboxDepth == best.MailboxDepth:
			if avg := b.averageResponseTime(c.AgentID); avg < bestAvg {
				best, bestAvg = c, avg
			}
		}
	}
	return best.AgentID
}

// weightedRoundRobinLocked implements the smooth weighted round-robin
// algorithm: each candidate's current weight accumulates by its configured
// weight every call; the highest current weight wins and is reduced by the
// total weight, so high-weight candidates are picked more often without
// bursts.
func (b *Balancer) weightedRoundRobinLocked(candidates []Candidate) string {
	total := 0
	var best *Candidate
	for i := range candidates {
		c := &candidates[i]
		weight := c.Weight
		if weight <= 0 {
			weight = 1
		}
		total += weight
		b.wrrCurrent[c.AgentID] += weight
		if best == nil || b.wrrCurrent[c.AgentID] > b.wrrCurrent[best.AgentID] {
			best = c
		}
	}
	b.wrrCurrent[best.AgentID] -= total
	return best.AgentID
}

func (b *Balancer) leastResponseTimeLocked(candidates []Candidate) string {
	ordered := sortedByID(candidates)
	best := ordered[0]
	bestAvg := b.averageResponseTime(best.AgentID)
	for _, c := range ordered[1:] {
		avg := b.averageResponseTime(c.AgentID)
		if avg < bestAvg {
			best, bestAvg = c, avg
		}
	}
	return best.AgentID
}

// capabilityAffinityLocked ranks candidates by how many of the required
// capabilities they carry; ties in that score fall through to
// LeastConnections (mailbox depth, then average response time, then id),
// the documented fallback chain for this strategy.
func (b *Balancer) capabilityAffinityLocked(candidates []Candidate, required []string) string {
	if len(required) == 0 {
		return b.leastConnectionsLocked(candidates)
	}
	ordered := sortedByID(candidates)
	bestScore := affinityScore(ordered[0], required)
	for _, c := range ordered[1:] {
		if score := affinityScore(c, required); score > bestScore {
			bestScore = score
		}
	}

	tied := make([]Candidate, 0, len(ordered))
	for _, c := range ordered {
		if affinityScore(c, required) == bestScore {
			tied = append(tied, c)
		}
	}
	return b.leastConnectionsLocked(tied)
}

func affinityScore(c Candidate, required []string) float64 {
	matched := 0
	for _, r := range required {
		if _, ok := c.Capabilities[r]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}
