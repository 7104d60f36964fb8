package simulator

import (
	"math/rand"
	"sync"
	"time"
)

// for deterministic testing
type Clock interface {
	Now() time.Time
}

// for deterministic values
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// RealRand wraps *rand.Rand, which is not safe for concurrent use on its own.
type RealRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRealRand(seed int64) *RealRand { return &RealRand{r: rand.New(rand.NewSource(seed))} }

func (r *RealRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Intn(n)
}

func (r *RealRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}
