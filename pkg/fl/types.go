package fl

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/task"
)

// HistogramBins splits [0,1] confidence into equal-width buckets.
const HistogramBins = 10

type Histogram [HistogramBins]int

func (h *Histogram) Observe(v float64) {
	i := int(v * HistogramBins)
	i = max(0, min(i, HistogramBins-1))
	h[i]++
}

type LayerStats struct {
	Attempts      int       `json:"attempts"`
	Scored        int       `json:"scored"`
	Reached       int       `json:"reached"`
	Resolved      int       `json:"resolved"`
	ConfidenceSum float64   `json:"confidence_sum"`
	Histogram     Histogram `json:"histogram"`
}

// MeanConfidence reports the mean score of scored attempts at the layer.
func (l LayerStats) MeanConfidence() (float64, bool) {
	if l.Scored == 0 {
		return 0, false
	}

	return l.ConfidenceSum / float64(l.Scored), true
}

// ClientRoundStatistics is the only thing a client shares with the
// aggregator: counts and confidence summaries, never code or patches.
type ClientRoundStatistics struct {
	ClientID       string         `json:"client_id"`
	Round          uint64         `json:"round"`
	TaskCount      int            `json:"task_count"`
	Resolved       int            `json:"resolved"`
	Exhausted      int            `json:"exhausted"`
	CarriedOver    int            `json:"carried_over"`
	Layers         [3]LayerStats  `json:"layers"`
	MeanConfidence float64        `json:"mean_confidence"`
	FailureReasons map[string]int `json:"failure_reasons,omitempty"`
	ReportedAt     time.Time      `json:"reported_at"`
}

// sumTolerance absorbs rounding when many scores of 1.0 are summed.
const sumTolerance = 1e-9

// Validate rejects statistics that the aggregation rule cannot consume:
// negative counts and confidence values that are not finite or do not fit
// the scored attempts they summarize.
func (s ClientRoundStatistics) Validate() error {
	var errs []error
	if s.ClientID == "" {
		errs = append(errs, errors.New("missing client id"))
	}
	if s.TaskCount < 0 || s.Resolved < 0 || s.Exhausted < 0 || s.CarriedOver < 0 {
		errs = append(errs, errors.New("negative task counts"))
	}
	if !(s.MeanConfidence >= 0 && s.MeanConfidence <= 1) {
		errs = append(errs, fmt.Errorf("mean confidence %v outside [0,1]", s.MeanConfidence))
	}
	for k, l := range s.Layers {
		if l.Attempts < 0 || l.Scored < 0 || l.Reached < 0 || l.Resolved < 0 {
			errs = append(errs, fmt.Errorf("layer %d has negative counts", k+1))
		}
		if l.Scored > l.Attempts || l.Resolved > l.Reached {
			errs = append(errs, fmt.Errorf("layer %d counts are inconsistent", k+1))
		}
		if math.IsNaN(l.ConfidenceSum) || l.ConfidenceSum < 0 || l.ConfidenceSum > float64(l.Scored)*(1+sumTolerance) {
			errs = append(errs, fmt.Errorf("layer %d confidence sum %v outside [0,%d]", k+1, l.ConfidenceSum, l.Scored))
		}
		for _, n := range l.Histogram {
			if n < 0 {
				errs = append(errs, fmt.Errorf("layer %d histogram has negative buckets", k+1))

				break
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidStatistics}, errs...)...)
	}

	return nil
}

func (s ClientRoundStatistics) Layer(l task.Layer) LayerStats {
	if !l.Valid() {
		return LayerStats{}
	}

	return s.Layers[l.Index()]
}

// GlobalPolicyUpdate carries the policy every client must run round Round with.
type GlobalPolicyUpdate struct {
	Round          uint64         `json:"round"`
	Policy         policy.Policy  `json:"policy"`
	Participants   []string       `json:"participants"`
	Missing        []string       `json:"missing,omitempty"`
	TaskVolume     int            `json:"task_volume"`
	FailureReasons map[string]int `json:"failure_reasons,omitempty"`
	IssuedAt       time.Time      `json:"issued_at"`
}

// RoundState tracks the reports collected for one open round.
type RoundState struct {
	Round     uint64                           `json:"round"`
	Expected  []string                         `json:"expected"`
	Reports   map[string]ClientRoundStatistics `json:"reports"`
	OpenedAt  time.Time                        `json:"opened_at"`
	Deadline  time.Time                        `json:"deadline"`
	Completed bool                             `json:"completed"`
}

func NewRoundState(round uint64, expected []string, openedAt time.Time, deadline time.Duration) *RoundState {
	return &RoundState{
		Round:    round,
		Expected: append([]string(nil), expected...),
		Reports:  make(map[string]ClientRoundStatistics),
		OpenedAt: openedAt,
		Deadline: openedAt.Add(deadline),
	}
}

// Complete reports whether every expected client has reported. A round with
// no expected clients is only closed by its deadline.
func (r *RoundState) Complete() bool {
	if len(r.Expected) == 0 {
		return false
	}
	for _, id := range r.Expected {
		if _, ok := r.Reports[id]; !ok {
			return false
		}
	}

	return true
}

func (r *RoundState) Missing() []string {
	var missing []string
	for _, id := range r.Expected {
		if _, ok := r.Reports[id]; !ok {
			missing = append(missing, id)
		}
	}

	return missing
}

type Aggregator interface {
	Aggregate(prev policy.Policy, stats []ClientRoundStatistics) (policy.Policy, error)
}
