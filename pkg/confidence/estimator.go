package confidence

import (
	"context"
	"math"
	"strings"

	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/task"
)

const defShingleCacheCost = 1 << 16

// Estimator scores candidate patches. For a fixed task, patch, policy,
// pattern library and harness verdict it always yields the same score.
type Estimator struct {
	patterns PatternLibrary
	harness  Harness
	shingles *shingler
}

type Option func(*Estimator)

func WithPatterns(lib PatternLibrary) Option {
	return func(e *Estimator) {
		e.patterns = lib
	}
}

func WithHarness(h Harness) Option {
	return func(e *Estimator) {
		e.harness = h
	}
}

func NewEstimator(opts ...Option) (*Estimator, error) {
	e := &Estimator{}
	for _, opt := range opts {
		opt(e)
	}

	if e.patterns != nil {
		s, err := newShingler(defShingleCacheCost)
		if err != nil {
			return nil, err
		}
		e.shingles = s
	}

	return e, nil
}

func (e *Estimator) Close() {
	e.shingles.close()
}

func (e *Estimator) Score(ctx context.Context, t task.RepairTask, p task.Patch, pol policy.Policy) task.ConfidenceScore {
	stats := ParseDiff(p.Diff)
	w := pol.Weights

	sig := task.Signals{
		Validity:     Validity(stats),
		SelfReported: clip01(p.SelfConfidence),
		Size:         math.Exp(-w.SizeDecay * float64(stats.Changed())),
	}
	if !stats.Valid {
		sig.Size = 0
	}
	sig.Similarity = e.similarity(t.DefectClass, stats)
	sig.Validation = e.validate(ctx, t, p)
	if l := p.Layer; l.Valid() && pol.Calibration.Samples[l.Index()] > 0 {
		h := clip01(pol.Calibration.LayerSuccess[l.Index()])
		sig.History = &h
	}

	score := task.ConfidenceScore{Signals: sig}
	if pol.RequireValid && sig.Validity == 0 {
		return score
	}

	var sum, total float64
	add := func(weight, value float64) {
		if weight <= 0 {
			return
		}
		sum += weight * value
		total += weight
	}
	add(w.Validity, sig.Validity)
	add(w.SelfReported, sig.SelfReported)
	add(w.Size, sig.Size)
	if sig.Similarity != nil {
		add(w.Similarity, *sig.Similarity)
	}
	if sig.Validation != nil {
		add(w.Validation, *sig.Validation)
	}
	if sig.History != nil {
		add(w.History, *sig.History)
	}

	if total > 0 {
		score.Value = clip01(sum / total)
	}

	return score
}

func (e *Estimator) similarity(defectClass string, stats DiffStats) *float64 {
	if e.patterns == nil || !stats.Valid {
		return nil
	}
	patterns := e.patterns.Patterns(defectClass)
	if len(patterns) == 0 {
		return nil
	}

	candidate := shingles(strings.Join(append(append([]string(nil), stats.Removed...), stats.Added...), "\n"))
	best := 0.0
	for _, pat := range patterns {
		best = max(best, jaccard(candidate, e.shingles.get(pat)))
	}

	return &best
}

func (e *Estimator) validate(ctx context.Context, t task.RepairTask, p task.Patch) *float64 {
	if e.harness == nil {
		return nil
	}

	verdict, err := e.harness.Validate(ctx, t, p)
	if err != nil {
		return nil
	}

	var v float64
	switch verdict {
	case Pass:
		v = 1
	case Fail:
		v = 0
	default:
		return nil
	}

	return &v
}

func clip01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
