package resilience

import "sync"

// BreakerSet keeps one CircuitBreaker per upstream host, created on first use.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

func NewBreakerSet(cfg CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{
		cfg:      NormalizeCircuitBreakerConfig(cfg),
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (s *BreakerSet) Enabled() bool {
	return s != nil && s.cfg.Enabled
}

func (s *BreakerSet) For(host string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[host]; ok {
		return b
	}
	b := NewCircuitBreaker(host, s.cfg)
	s.breakers[host] = b
	return b
}

// States reports the current state of every known host breaker.
func (s *BreakerSet) States() map[string]CircuitState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]CircuitState, len(s.breakers))
	for host, b := range s.breakers {
		out[host] = b.State()
	}
	return out
}
