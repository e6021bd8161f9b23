// Package observability starts tracing, continuous profiling and the pprof
// listener for a binary, and stops them in reverse order.
package observability

import (
	"context"
	"errors"

	"github.com/riskibarqy/duel-ingest/internal/config"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
)

type stopFunc func(context.Context) error

// Stack holds whatever Start enabled. The zero value is a valid, empty stack.
type Stack struct {
	stops []namedStop
}

type namedStop struct {
	name string
	stop stopFunc
}

// Start enables each component configured in cfg. When one fails, the ones
// already running are stopped before the error is returned.
func Start(ctx context.Context, cfg config.Config, logger *logging.Logger) (*Stack, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.Named("observability")

	s := &Stack{}
	starters := []struct {
		name  string
		start func(config.Config, *logging.Logger) (stopFunc, error)
	}{
		{"uptrace", startTracing},
		{"pyroscope", startProfiling},
		{"pprof", startPprof},
	}
	for _, st := range starters {
		stop, err := st.start(cfg, logger)
		if err != nil {
			return nil, errors.Join(err, s.Shutdown(ctx, logger))
		}
		if stop != nil {
			s.stops = append(s.stops, namedStop{name: st.name, stop: stop})
		}
	}
	return s, nil
}

// Enabled lists the running components in start order.
func (s *Stack) Enabled() []string {
	out := make([]string, 0, len(s.stops))
	for _, st := range s.stops {
		out = append(out, st.name)
	}
	return out
}

// Shutdown stops components in reverse start order and returns every error.
func (s *Stack) Shutdown(ctx context.Context, logger *logging.Logger) error {
	if s == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	var errs []error
	for i := len(s.stops) - 1; i >= 0; i-- {
		st := s.stops[i]
		if err := st.stop(ctx); err != nil {
			logger.Warn("observability shutdown failed", "component", st.name, "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Info("observability component stopped", "component", st.name)
	}
	s.stops = nil
	return errors.Join(errs...)
}
