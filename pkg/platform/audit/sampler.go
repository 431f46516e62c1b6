package audit

import (
	"math/rand/v2"
	"sync"
)

// Sampler decides which operations events are kept.
type Sampler struct {
	mu           sync.RWMutex
	defaultRate  float64
	rateByAction map[Action]float64
	rand         func() float64
}

// NewSampler creates a sampler with the given default rate, clamped to [0, 1].
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate:  clampRate(defaultRate),
		rateByAction: make(map[Action]float64),
		rand:         rand.Float64, //nolint:gosec // sampling doesn't need crypto rand
	}
}

// ShouldSample reports whether an event with the given action is kept.
func (s *Sampler) ShouldSample(action Action) bool {
	rate := s.rateFor(action)
	switch rate {
	case 0:
		return false
	case 1:
		return true
	}
	return s.rand() < rate
}

// SetRate overrides the rate for one action.
func (s *Sampler) SetRate(action Action, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByAction[action] = clampRate(rate)
}

func (s *Sampler) rateFor(action Action) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rateByAction[action]; ok {
		return rate
	}
	return s.defaultRate
}

func clampRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
