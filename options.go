package imgcas

import (
	"time"

	"github.com/aweris/imgcas/internal/hasher"
	"github.com/aweris/imgcas/internal/metrics"
	"github.com/aweris/imgcas/internal/remote"
	"github.com/aweris/imgcas/internal/validate"
	"github.com/rs/zerolog"
)

// Options configures an Engine.
type Options struct {
	Logger        zerolog.Logger
	Validator     Validator
	Hasher        hasher.Hasher
	Metrics       *metrics.Metrics
	MaxObjectSize uint64
	Clock         func() time.Time
	Auth          Authenticator
	Concurrency   int
}

// Option is a functional option for configuring Open and New.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:      zerolog.Nop(),
		Validator:   validate.Default(),
		Hasher:      hasher.Default(),
		Clock:       time.Now,
		Concurrency: remote.DefaultConcurrency,
	}
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithValidator replaces the default image rules.
func WithValidator(v Validator) Option {
	return func(o *Options) {
		if v != nil {
			o.Validator = v
		}
	}
}

// WithHasher selects the content digest algorithm.
func WithHasher(h hasher.Hasher) Option {
	return func(o *Options) {
		if h != nil {
			o.Hasher = h
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithMaxObjectSize bounds how many bytes Store reads from an upload.
// When unset, the validator's limit is used if it exposes one.
func WithMaxObjectSize(n uint64) Option {
	return func(o *Options) { o.MaxObjectSize = n }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Clock = now
		}
	}
}

// WithAuth sets registry credentials for Push and Pull.
func WithAuth(auth Authenticator) Option {
	return func(o *Options) { o.Auth = auth }
}

// WithConcurrency sets the number of parallel operations for verify, push and pull.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}
