package fl

import (
	"sync"
	"time"

	"github.com/absmach/fedrepair/pkg/scheduler"
)

// Accumulator folds terminal task results into one client's statistics.
// Add is safe for concurrent use by many finishing tasks.
type Accumulator struct {
	mu          sync.Mutex
	stats       ClientRoundStatistics
	scoredSum   float64
	scoredCount int
}

func NewAccumulator(clientID string, round uint64) *Accumulator {
	return &Accumulator{
		stats: ClientRoundStatistics{
			ClientID:       clientID,
			Round:          round,
			FailureReasons: make(map[string]int),
		},
	}
}

func (a *Accumulator) Add(res scheduler.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &a.stats
	s.TaskCount++

	var reached [3]bool
	for _, rec := range res.Attempts {
		if !rec.Layer.Valid() {
			continue
		}
		ls := &s.Layers[rec.Layer.Index()]
		ls.Attempts++
		reached[rec.Layer.Index()] = true
		if rec.Failure != "" {
			s.FailureReasons[rec.Failure]++

			continue
		}
		ls.Scored++
		ls.ConfidenceSum += rec.Score
		ls.Histogram.Observe(rec.Score)
		a.scoredSum += rec.Score
		a.scoredCount++
	}
	for i, ok := range reached {
		if ok {
			s.Layers[i].Reached++
		}
	}

	if res.State == scheduler.StateResolved && res.Patch != nil && res.Patch.Layer.Valid() {
		s.Resolved++
		s.Layers[res.Patch.Layer.Index()].Resolved++

		return
	}

	s.Exhausted++
	if res.Reason != "" {
		s.FailureReasons[string(res.Reason)]++
	}
}

// Relabel moves the gathered statistics to round. A client that missed
// rounds reports what it gathered under the round it rejoins.
func (a *Accumulator) Relabel(round uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Round = round
}

func (a *Accumulator) Round() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.stats.Round
}

func (a *Accumulator) CarryOver(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.CarriedOver += n
}

// Statistics returns a copy of the statistics gathered so far.
func (a *Accumulator) Statistics(at time.Time) ClientRoundStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.stats
	out.ReportedAt = at
	out.FailureReasons = make(map[string]int, len(a.stats.FailureReasons))
	for k, v := range a.stats.FailureReasons {
		out.FailureReasons[k] = v
	}
	if a.scoredCount > 0 {
		out.MeanConfidence = a.scoredSum / float64(a.scoredCount)
	}

	return out
}
