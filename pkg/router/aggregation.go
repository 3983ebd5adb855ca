package router

// AggregationMethod collapses the top-k scores belonging to one route into a
// single value before thresholding.
type AggregationMethod int

const (
	// AggregationMean averages a route's scores within the top-k list.
	// With topK = 1 it is equivalent to AggregationMax.
	AggregationMean AggregationMethod = iota

	// AggregationMax keeps only a route's best score.
	AggregationMax

	// AggregationSum adds a route's scores. Unbounded above; pair it with a
	// threshold chosen accordingly.
	AggregationSum
)

// String returns the string representation of the aggregation method
func (a AggregationMethod) String() string {
	switch a {
	case AggregationMean:
		return "mean"
	case AggregationMax:
		return "max"
	case AggregationSum:
		return "sum"
	default:
		return "unknown"
	}
}

// ParseAggregationMethod maps "mean", "max" and "sum" to the corresponding
// method. Unknown names fall back to mean.
func ParseAggregationMethod(s string) AggregationMethod {
	switch s {
	case "max":
		return AggregationMax
	case "sum":
		return AggregationSum
	default:
		return AggregationMean
	}
}

// aggregate collapses a non-empty score list.
func (a AggregationMethod) aggregate(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.0
	}

	switch a {
	case AggregationMax:
		best := scores[0]
		for _, s := range scores[1:] {
			if s > best {
				best = s
			}
		}
		return best
	case AggregationSum:
		var sum float64
		for _, s := range scores {
			sum += s
		}
		return sum
	default:
		var sum float64
		for _, s := range scores {
			sum += s
		}
		return sum / float64(len(scores))
	}
}
