package usecases

// Metrics receives resolution counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// RefLookup counts one ref resolution by where the answer came from.
	RefLookup(source string)

	// ResolutionFinished records the outcome of one convergence loop and
	// the number of redirects it followed.
	ResolutionFinished(outcome string, redirects int)

	// SecretsBound counts bound secrets by the scope they were found in.
	SecretsBound(scope string, n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

// RefLookup implements Metrics.
func (NopMetrics) RefLookup(string) {}

// ResolutionFinished implements Metrics.
func (NopMetrics) ResolutionFinished(string, int) {}

// SecretsBound implements Metrics.
func (NopMetrics) SecretsBound(string, int) {}
