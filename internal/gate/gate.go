// Package gate bounds how many tasks of one kind hold a processing slot at once.
package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/cesargomez89/stemdeck/internal/domain"
)

// Gate is a counting semaphore with occupancy instrumentation.
type Gate struct {
	sem      *semaphore.Weighted
	name     string
	capacity int64
	inUse    atomic.Int64
	waiting  atomic.Int64
	peak     atomic.Int64
}

func New(name string, capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		name:     name,
		capacity: int64(capacity),
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// func is idempotent and must be called on every exit path.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return nil, fmt.Errorf("acquire %s slot: %w", g.name, err)
	}

	return g.hold(), nil
}

// TryAcquire takes a slot only if one is immediately free.
func (g *Gate) TryAcquire() (func(), bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	return g.hold(), true
}

func (g *Gate) hold() func() {
	n := g.inUse.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.inUse.Add(-1)
			g.sem.Release(1)
		})
	}
}

func (g *Gate) Name() string { return g.name }

func (g *Gate) Capacity() int { return int(g.capacity) }

// InUse is the number of slots currently held.
func (g *Gate) InUse() int { return int(g.inUse.Load()) }

// Waiting is the number of callers blocked in Acquire.
func (g *Gate) Waiting() int { return int(g.waiting.Load()) }

// Peak is the highest InUse observed since creation.
func (g *Gate) Peak() int { return int(g.peak.Load()) }

// Stats is a point-in-time view of a gate.
type Stats struct {
	Capacity int `json:"capacity"`
	InUse    int `json:"in_use"`
	Waiting  int `json:"waiting"`
	Peak     int `json:"peak"`
}

func (g *Gate) Stats() Stats {
	return Stats{Capacity: g.Capacity(), InUse: g.InUse(), Waiting: g.Waiting(), Peak: g.Peak()}
}

// Set holds one gate per task kind.
type Set struct {
	gates map[domain.TaskKind]*Gate
}

func NewSet(capacities map[domain.TaskKind]int) *Set {
	s := &Set{gates: make(map[domain.TaskKind]*Gate, len(capacities))}
	for kind, c := range capacities {
		s.gates[kind] = New(string(kind), c)
	}
	return s
}

// For returns the gate for kind, or nil when none is configured.
func (s *Set) For(kind domain.TaskKind) *Gate {
	return s.gates[kind]
}

func (s *Set) Stats() map[domain.TaskKind]Stats {
	out := make(map[domain.TaskKind]Stats, len(s.gates))
	for k, g := range s.gates {
		out[k] = g.Stats()
	}
	return out
}
