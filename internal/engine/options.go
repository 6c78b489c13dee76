package engine

import "time"

// Options tunes one engine instance. Zero values fall back to the defaults
// below at construction time.
type Options struct {
	// Concurrency bounds the number of semantic matcher calls in flight.
	Concurrency int
	// BatchSize is the maximum number of invoice line items per semantic
	// matcher call.
	BatchSize int
	// Timeout applies to each semantic matcher batch, not the whole run.
	Timeout time.Duration
	// CacheTTL controls how long merged results stay cached.
	CacheTTL time.Duration
	// QualityThreshold gates both direct pattern acceptance and feedback
	// into the pattern store.
	QualityThreshold float64
	// Progress, when set, is invoked as items reach a terminal state.
	Progress func(done, total int)

	EnableCache           bool
	EnablePatternLearning bool
}

// DefaultOptions returns the standard engine configuration.
func DefaultOptions() Options {
	return Options{
		Concurrency:           3,
		BatchSize:             20,
		Timeout:               30 * time.Second,
		CacheTTL:              15 * time.Minute,
		QualityThreshold:      0.7,
		EnableCache:           true,
		EnablePatternLearning: true,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = def.CacheTTL
	}
	if o.QualityThreshold <= 0 {
		o.QualityThreshold = def.QualityThreshold
	}
	return o
}
