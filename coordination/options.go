package coordination

import "go.uber.org/zap"

type settings struct {
	logger  *zap.Logger
	metrics *Metrics
	clock   Clock
}

// Option configures registries and runners.
type Option func(*settings)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records outcomes on m instead of DefaultMetrics.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock Clock) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

func newSettings(opts []Option) settings {
	s := settings{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.metrics == nil {
		s.metrics = DefaultMetrics()
	}
	s.clock = s.clock.withDefaults()
	return s
}
