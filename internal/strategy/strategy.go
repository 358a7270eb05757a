// Package strategy maps per-date model scores to bounded portfolio weights
// and provides a Registry of the score transforms that may be selected by
// name.
package strategy

import (
	"math"
	"slices"
	"sort"
)

// ScoreTransform turns one date's raw scores into signed, scale-free
// weights whose absolute values sum to 1 (or are all zero).
type ScoreTransform interface {
	// Name returns the unique identifier used in configuration.
	Name() string

	// Transform returns a new slice; scores is not modified.
	Transform(scores []float64) []float64
}

// Registry holds a named collection of score transforms.
type Registry struct {
	transforms map[string]ScoreTransform
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		transforms: make(map[string]ScoreTransform),
	}
}

// DefaultRegistry returns a Registry holding the rank and linear transforms.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Rank{})
	r.Register(Linear{})
	return r
}

// Register adds a transform to the registry, keyed by its Name().
func (r *Registry) Register(t ScoreTransform) {
	r.transforms[t.Name()] = t
}

// Get retrieves a transform by name. The second return value indicates
// whether it was found.
func (r *Registry) Get(name string) (ScoreTransform, bool) {
	t, ok := r.transforms[name]
	return t, ok
}

// List returns a sorted slice of all registered transform names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Linear demeans the scores and scales them by the sum of absolute
// deviations.
type Linear struct{}

func (Linear) Name() string { return "linear" }

func (Linear) Transform(scores []float64) []float64 {
	w := slices.Clone(scores)
	if len(w) == 0 {
		return w
	}
	mean := 0.0
	for _, s := range w {
		mean += s
	}
	mean /= float64(len(w))
	for i := range w {
		w[i] -= mean
	}
	return scaleAbs(w)
}

// Rank replaces scores by their 1-based rank (ties in input order), centres
// the ranks and scales by the sum of absolute values.
type Rank struct{}

func (Rank) Name() string { return "rank" }

func (Rank) Transform(scores []float64) []float64 {
	n := len(scores)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	w := make([]float64, n)
	centre := float64(n+1) / 2
	for rank, idx := range order {
		w[idx] = float64(rank+1) - centre
	}
	return scaleAbs(w)
}

// scaleAbs divides w by its absolute sum in place; a zero sum yields zeros.
func scaleAbs(w []float64) []float64 {
	total := 0.0
	for _, v := range w {
		total += math.Abs(v)
	}
	for i := range w {
		if total == 0 {
			w[i] = 0
		} else {
			w[i] /= total
		}
	}
	return w
}
