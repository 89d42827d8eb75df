package fl

import (
	"math"

	"github.com/absmach/fedrepair/pkg/policy"
)

// WeightedAggregator moves each layer threshold towards the volume-weighted
// mean confidence clients observed on that layer. A client's weight is its
// task volume, capped at Federation.VolumeCap when the cap is positive.
type WeightedAggregator struct{}

func NewWeightedAggregator() Aggregator {
	return &WeightedAggregator{}
}

func (w *WeightedAggregator) Aggregate(prev policy.Policy, stats []ClientRoundStatistics) (policy.Policy, error) {
	if len(stats) == 0 {
		return prev.Clone(), ErrNoStatistics
	}

	next := prev.Clone()
	fed := prev.Federation

	for k := range next.Layers {
		var sum, total float64
		for _, s := range stats {
			c, ok := s.Layers[k].MeanConfidence()
			if !ok || math.IsNaN(c) || math.IsInf(c, 0) {
				continue
			}
			weight := Weight(s.TaskCount, fed.VolumeCap)
			sum += weight * c
			total += weight
		}
		if total == 0 {
			continue
		}

		old := prev.Layers[k].Threshold
		target := sum / total
		next.Layers[k].Threshold = clamp(old+fed.LearningRate*(target-old), fed.MinThreshold, fed.MaxThreshold)
	}

	for k := range next.Calibration.LayerSuccess {
		var resolved, reached int
		for _, s := range stats {
			resolved += s.Layers[k].Resolved
			reached += s.Layers[k].Reached
		}
		if reached == 0 {
			continue
		}
		next.Calibration.LayerSuccess[k] = float64(resolved) / float64(reached)
		next.Calibration.Samples[k] = reached
	}

	return next, nil
}

// Weight is the influence of a client with the given task volume.
func Weight(volume, limit int) float64 {
	if volume <= 0 {
		return 0
	}
	if limit > 0 && volume > limit {
		return float64(limit)
	}

	return float64(volume)
}

// MergeFailures sums the failure histograms of all reports.
func MergeFailures(stats []ClientRoundStatistics) map[string]int {
	out := make(map[string]int)
	for _, s := range stats {
		for k, v := range s.FailureReasons {
			out[k] += v
		}
	}

	return out
}

func clamp(v, lo, hi float64) float64 {
	if hi <= 0 && lo <= 0 {
		hi = 1
	}

	return max(lo, min(v, hi))
}
