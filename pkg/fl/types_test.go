package fl_test

import (
	"math"
	"testing"

	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/stretchr/testify/assert"
)

func TestStatisticsValidate(t *testing.T) {
	cases := []struct {
		desc   string
		mutate func(s *fl.ClientRoundStatistics)
		valid  bool
	}{
		{desc: "well formed", mutate: func(_ *fl.ClientRoundStatistics) {}, valid: true},
		{desc: "no scored attempts", mutate: func(s *fl.ClientRoundStatistics) { s.Layers[2] = fl.LayerStats{} }, valid: true},
		{desc: "missing client id", mutate: func(s *fl.ClientRoundStatistics) { s.ClientID = "" }},
		{desc: "negative volume", mutate: func(s *fl.ClientRoundStatistics) { s.TaskCount = -1 }},
		{desc: "NaN confidence sum", mutate: func(s *fl.ClientRoundStatistics) { s.Layers[0].ConfidenceSum = math.NaN() }},
		{desc: "infinite confidence sum", mutate: func(s *fl.ClientRoundStatistics) { s.Layers[1].ConfidenceSum = math.Inf(1) }},
		{desc: "negative confidence sum", mutate: func(s *fl.ClientRoundStatistics) { s.Layers[1].ConfidenceSum = -0.1 }},
		{desc: "confidence sum above scored", mutate: func(s *fl.ClientRoundStatistics) { s.Layers[0].ConfidenceSum = 11 }},
		{desc: "NaN mean confidence", mutate: func(s *fl.ClientRoundStatistics) { s.MeanConfidence = math.NaN() }},
		{desc: "more scored than attempted", mutate: func(s *fl.ClientRoundStatistics) { s.Layers[0].Scored = 20 }},
		{desc: "more resolved than reached", mutate: func(s *fl.ClientRoundStatistics) { s.Layers[0].Resolved = 11 }},
		{desc: "negative histogram bucket", mutate: func(s *fl.ClientRoundStatistics) { s.Layers[0].Histogram[5] = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			s := clientStats("a", 10, 0.7)
			s.MeanConfidence = 0.7
			tc.mutate(&s)
			err := s.Validate()
			if tc.valid {
				assert.NoError(t, err)

				return
			}
			assert.ErrorIs(t, err, fl.ErrInvalidStatistics)
		})
	}
}

func TestWeightedAggregatorSkipsNonFiniteMeans(t *testing.T) {
	good := clientStats("good", 10, 0.6)
	bad := clientStats("bad", 10, 0.9)
	bad.Layers[0].ConfidenceSum = math.NaN()

	prev := policy.Default()
	prev.Federation = policy.Federation{LearningRate: 1, MaxThreshold: 1}
	next, err := fl.NewWeightedAggregator().Aggregate(prev, []fl.ClientRoundStatistics{good, bad})
	assert.NoError(t, err)
	assert.InDelta(t, 0.6, next.Layers[0].Threshold, 1e-9)
	assert.InDelta(t, 0.75, next.Layers[1].Threshold, 1e-9)
	assert.NoError(t, next.Validate())
}
