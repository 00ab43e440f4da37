// Package auth models the two probabilistic gates a node consults: the
// local policy check and the pre-commit integrity check.
package auth

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sushant-115/policytxn/core/simtime"
)

// Checker runs the local authorization and integrity gates. Both consume
// simulated latency through the supplied sleeper.
type Checker interface {
	LocalAuth(s simtime.Sleeper) bool
	Integrity(s simtime.Sleeper) bool
}

// Gate is one weighted coin.
type Gate struct {
	// SuccessRate is the probability in [0,1] that the gate passes.
	SuccessRate float64 `yaml:"success_rate"`
	// Latency is charged to the sleeper on every flip.
	Latency time.Duration `yaml:"latency"`
}

// Probabilistic flips both gates from one seeded source, so a fixed seed and
// call order reproduce the same verdicts.
type Probabilistic struct {
	mu        sync.Mutex
	rng       *rand.Rand
	auth      Gate
	integrity Gate
}

// NewProbabilistic returns a Checker seeded with seed.
func NewProbabilistic(seed int64, authGate, integrityGate Gate) *Probabilistic {
	return &Probabilistic{
		rng:       rand.New(rand.NewSource(seed)),
		auth:      authGate,
		integrity: integrityGate,
	}
}

// LocalAuth implements Checker.
func (p *Probabilistic) LocalAuth(s simtime.Sleeper) bool {
	return p.flip(s, p.auth)
}

// Integrity implements Checker.
func (p *Probabilistic) Integrity(s simtime.Sleeper) bool {
	return p.flip(s, p.integrity)
}

func (p *Probabilistic) flip(s simtime.Sleeper, g Gate) bool {
	if s != nil {
		s.Sleep(g.Latency)
	}
	p.mu.Lock()
	x := p.rng.Float64()
	p.mu.Unlock()
	return x < g.SuccessRate
}
