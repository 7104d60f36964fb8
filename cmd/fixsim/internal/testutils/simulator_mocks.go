package testutils

import (
	"sync"
	"time"
)

type MockClock struct {
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time { return m.CurrentTime }

// MockRand returns fixed values. Safe for concurrent use.
type MockRand struct {
	Mu       sync.Mutex
	ValInt   int
	ValFloat float64
}

func (m *MockRand) Intn(n int) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.ValInt
}

func (m *MockRand) Float64() float64 {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.ValFloat
}

func (m *MockRand) Set(i int, f float64) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.ValInt, m.ValFloat = i, f
}
