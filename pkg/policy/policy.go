package policy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/absmach/fedrepair/task"
)

var ErrInvalidPolicy = errors.New("invalid scheduling policy")

type Fallback string

const (
	// FallbackMostAdvanced prefers the later layer and attempt on equal scores.
	FallbackMostAdvanced Fallback = "most_advanced"
	// FallbackLowestCost prefers the cheaper layer and earlier attempt on equal scores.
	FallbackLowestCost Fallback = "lowest_cost"
)

type LayerPolicy struct {
	Threshold   float64  `json:"threshold"`
	MaxAttempts int      `json:"max_attempts"`
	Timeout     Duration `json:"timeout"`
}

type RetryPolicy struct {
	MaxRetries     int      `json:"max_retries"`
	InitialBackoff Duration `json:"initial_backoff"`
	MaxBackoff     Duration `json:"max_backoff"`
	Multiplier     float64  `json:"multiplier"`
}

// TriggerPolicy decides when a task skips straight from L1 to L3.
type TriggerPolicy struct {
	Enabled             bool     `json:"enabled"`
	DefectClasses       []string `json:"defect_classes,omitempty"`
	MinContextLines     int      `json:"min_context_lines,omitempty"`
	LowConfidenceStreak int      `json:"low_confidence_streak,omitempty"`
	LowConfidenceFloor  float64  `json:"low_confidence_floor,omitempty"`
}

type Weights struct {
	SelfReported float64 `json:"self_reported"`
	Validation   float64 `json:"validation"`
	Validity     float64 `json:"validity"`
	Size         float64 `json:"size"`
	Similarity   float64 `json:"similarity"`
	History      float64 `json:"history"`
	SizeDecay    float64 `json:"size_decay"`
}

// Calibration holds per-layer success priors learned across clients.
type Calibration struct {
	LayerSuccess [3]float64 `json:"layer_success"`
	Samples      [3]int     `json:"samples"`
}

type Federation struct {
	VolumeCap    int     `json:"volume_cap"`
	LearningRate float64 `json:"learning_rate"`
	MinThreshold float64 `json:"min_threshold"`
	MaxThreshold float64 `json:"max_threshold"`
}

type Policy struct {
	Layers                 [3]LayerPolicy `json:"layers"`
	Retry                  RetryPolicy    `json:"retry"`
	Trigger                TriggerPolicy  `json:"trigger"`
	Weights                Weights        `json:"weights"`
	Calibration            Calibration    `json:"calibration"`
	RequireValid           bool           `json:"require_valid"`
	Fallback               Fallback       `json:"fallback"`
	AcceptTerminalFallback bool           `json:"accept_terminal_fallback"`
	RoundDeadline          Duration       `json:"round_deadline"`
	HardDeadline           Duration       `json:"hard_deadline"`
	Concurrency            int            `json:"concurrency"`
	Federation             Federation     `json:"federation"`
}

func Default() Policy {
	return Policy{
		Layers: [3]LayerPolicy{
			{Threshold: 0.75, MaxAttempts: 1, Timeout: Duration(time.Minute)},
			{Threshold: 0.65, MaxAttempts: 2, Timeout: Duration(2 * time.Minute)},
			{Threshold: 0.55, MaxAttempts: 3, Timeout: Duration(5 * time.Minute)},
		},
		Retry: RetryPolicy{
			MaxRetries:     3,
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(30 * time.Second),
			Multiplier:     2,
		},
		Trigger: TriggerPolicy{
			LowConfidenceStreak: 2,
			LowConfidenceFloor:  0.2,
		},
		Weights: Weights{
			SelfReported: 0.45,
			Validation:   0.20,
			Validity:     0.15,
			Size:         0.10,
			Similarity:   0.05,
			History:      0.05,
			SizeDecay:    0.08,
		},
		RequireValid:  true,
		Fallback:      FallbackMostAdvanced,
		RoundDeadline: Duration(10 * time.Minute),
		HardDeadline:  Duration(15 * time.Minute),
		Concurrency:   4,
		Federation: Federation{
			VolumeCap:    100,
			LearningRate: 0.5,
			MinThreshold: 0.05,
			MaxThreshold: 0.95,
		},
	}
}

func (p Policy) Layer(l task.Layer) LayerPolicy {
	if !l.Valid() {
		return LayerPolicy{}
	}

	return p.Layers[l.Index()]
}

// Clone returns a deep copy so a published snapshot never aliases caller memory.
func (p Policy) Clone() Policy {
	c := p
	if p.Trigger.DefectClasses != nil {
		c.Trigger.DefectClasses = append([]string(nil), p.Trigger.DefectClasses...)
	}

	return c
}

func (p Policy) Validate() error {
	var errs []error

	for i, lp := range p.Layers {
		if !unit(lp.Threshold) {
			errs = append(errs, fmt.Errorf("layer %d threshold %.3f outside [0,1]", i+1, lp.Threshold))
		}
		if lp.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("layer %d max_attempts must not be negative", i+1))
		}
		if lp.Timeout < 0 {
			errs = append(errs, fmt.Errorf("layer %d timeout must not be negative", i+1))
		}
	}

	if p.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry max_retries must not be negative"))
	}
	if p.Retry.Multiplier != 0 && !(p.Retry.Multiplier >= 1 && !math.IsInf(p.Retry.Multiplier, 1)) {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}
	if p.Retry.MaxBackoff != 0 && p.Retry.MaxBackoff < p.Retry.InitialBackoff {
		errs = append(errs, errors.New("retry max_backoff must not be below initial_backoff"))
	}

	if p.Trigger.LowConfidenceStreak < 0 || p.Trigger.MinContextLines < 0 {
		errs = append(errs, errors.New("trigger limits must not be negative"))
	}
	if !unit(p.Trigger.LowConfidenceFloor) {
		errs = append(errs, errors.New("trigger low_confidence_floor outside [0,1]"))
	}

	w := p.Weights
	if !nonNegative(w.SelfReported, w.Validation, w.Validity, w.Size, w.Similarity, w.History, w.SizeDecay) {
		errs = append(errs, errors.New("weights must be finite and not negative"))
	}
	if w.SelfReported+w.Validation+w.Validity+w.Size+w.Similarity+w.History == 0 {
		errs = append(errs, errors.New("at least one weight must be positive"))
	}

	for i := range p.Calibration.LayerSuccess {
		if !unit(p.Calibration.LayerSuccess[i]) {
			errs = append(errs, fmt.Errorf("layer %d calibration outside [0,1]", i+1))
		}
	}

	switch p.Fallback {
	case FallbackMostAdvanced, FallbackLowestCost:
	default:
		errs = append(errs, fmt.Errorf("unknown fallback %q", p.Fallback))
	}

	if p.RoundDeadline <= 0 {
		errs = append(errs, errors.New("round_deadline must be positive"))
	}
	if p.HardDeadline != 0 && p.HardDeadline < p.RoundDeadline {
		errs = append(errs, errors.New("hard_deadline must not be below round_deadline"))
	}
	if p.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be at least 1"))
	}

	f := p.Federation
	if f.VolumeCap < 0 {
		errs = append(errs, errors.New("federation volume_cap must not be negative"))
	}
	if !unit(f.LearningRate) {
		errs = append(errs, errors.New("federation learning_rate outside [0,1]"))
	}
	if !unit(f.MinThreshold) || !unit(f.MaxThreshold) || f.MinThreshold > f.MaxThreshold {
		errs = append(errs, errors.New("federation threshold bounds must satisfy 0 <= min <= max <= 1"))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidPolicy}, errs...)...)
	}

	return nil
}

// unit reports whether v lies in [0,1]. NaN fails every comparison, so it
// is rejected here too.
func unit(v float64) bool {
	return v >= 0 && v <= 1
}

func nonNegative(vs ...float64) bool {
	for _, v := range vs {
		if !(v >= 0) || math.IsInf(v, 1) {
			return false
		}
	}

	return true
}
