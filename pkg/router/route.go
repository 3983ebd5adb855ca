package router

import "fmt"

// Route represents a single semantic route: a named intent described by
// example utterances and their embeddings.
type Route struct {
	// Name is the unique identifier for this route within a layer
	Name string `json:"name"`

	// Utterances are example phrases that represent this route's intent.
	// May be empty when Embeddings were computed offline.
	Utterances []string `json:"utterances,omitempty"`

	// Embeddings holds one vector per utterance. Populated by the layer
	// builder when absent; assumed L2-normalizable.
	Embeddings [][]float32 `json:"embeddings,omitempty"`

	// Threshold optionally overrides the layer's acceptance threshold for
	// this route. Whenever set it wins, including a value of 0.
	Threshold *float64 `json:"threshold,omitempty"`

	// Description is an optional human-readable tag for the route's intent
	Description string `json:"description,omitempty"`
}

// RouteBuilder assembles a Route.
//
//	route, err := router.NewRoute("politics").
//		WithUtterances("isn't politics the best thing ever", "they will save the country!").
//		WithThreshold(0.7).
//		Build()
type RouteBuilder struct {
	route Route
}

// NewRoute creates a builder for a route with the given name.
func NewRoute(name string) *RouteBuilder {
	return &RouteBuilder{route: Route{Name: name}}
}

// WithUtterances sets the example utterances for the route.
func (b *RouteBuilder) WithUtterances(utterances ...string) *RouteBuilder {
	b.route.Utterances = utterances
	return b
}

// WithEmbeddings attaches pre-computed utterance embeddings, letting callers
// reuse vectors computed offline.
func (b *RouteBuilder) WithEmbeddings(embeddings [][]float32) *RouteBuilder {
	b.route.Embeddings = embeddings
	return b
}

// WithThreshold sets a per-route acceptance threshold in [-1, 1].
func (b *RouteBuilder) WithThreshold(threshold float64) *RouteBuilder {
	b.route.Threshold = &threshold
	return b
}

// WithDescription sets a human-readable description of the route's intent.
func (b *RouteBuilder) WithDescription(description string) *RouteBuilder {
	b.route.Description = description
	return b
}

// Build validates and returns the route.
func (b *RouteBuilder) Build() (*Route, error) {
	if err := validateRoute(&b.route); err != nil {
		return nil, err
	}
	route := b.route
	return &route, nil
}

// validateRoute checks the structural invariants shared by the route builder
// and the layer builder.
func validateRoute(route *Route) error {
	if route.Name == "" {
		return wrapError("route", fmt.Errorf("%w: route name cannot be empty", ErrInvalidConfiguration))
	}

	if len(route.Utterances) == 0 && len(route.Embeddings) == 0 {
		return wrapError("route", fmt.Errorf("%w: route %q needs utterances or embeddings", ErrInvalidConfiguration, route.Name))
	}

	if len(route.Embeddings) > 0 {
		if len(route.Utterances) > 0 && len(route.Utterances) != len(route.Embeddings) {
			return wrapError("route", fmt.Errorf("%w: route %q has %d utterances but %d embeddings",
				ErrInvalidConfiguration, route.Name, len(route.Utterances), len(route.Embeddings)))
		}
		dim := len(route.Embeddings[0])
		for i, vec := range route.Embeddings {
			if len(vec) != dim {
				return wrapError("route", fmt.Errorf("%w: route %q embedding %d has width %d, expected %d",
					ErrInvalidConfiguration, route.Name, i, len(vec), dim))
			}
		}
		if dim == 0 {
			return wrapError("route", fmt.Errorf("%w: route %q has zero-width embeddings", ErrInvalidConfiguration, route.Name))
		}
	}

	if route.Threshold != nil && (*route.Threshold < -1.0 || *route.Threshold > 1.0) {
		return wrapError("route", fmt.Errorf("%w: route %q threshold %f outside [-1, 1]",
			ErrInvalidConfiguration, route.Name, *route.Threshold))
	}

	return nil
}
