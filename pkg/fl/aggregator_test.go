package fl_test

import (
	"testing"

	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientStats(id string, volume int, mean float64) fl.ClientRoundStatistics {
	s := fl.ClientRoundStatistics{ClientID: id, Round: 1, TaskCount: volume}
	for k := range s.Layers {
		s.Layers[k] = fl.LayerStats{
			Attempts:      volume,
			Scored:        volume,
			Reached:       volume,
			ConfidenceSum: mean * float64(volume),
		}
	}

	return s
}

func TestWeightedAggregator(t *testing.T) {
	big := clientStats("big", 100, 0.8)
	small := clientStats("small", 10, 0.5)

	cases := []struct {
		desc  string
		cap   int
		lr    float64
		stats []fl.ClientRoundStatistics
		want  float64
		err   error
	}{
		{
			desc:  "volume weighted without cap",
			cap:   0,
			lr:    1,
			stats: []fl.ClientRoundStatistics{big, small},
			want:  (100*0.8 + 10*0.5) / 110,
		},
		{
			desc:  "cap bounds the dominant client",
			cap:   50,
			lr:    1,
			stats: []fl.ClientRoundStatistics{big, small},
			want:  (50*0.8 + 10*0.5) / 60,
		},
		{
			desc:  "learning rate moves half way",
			cap:   0,
			lr:    0.5,
			stats: []fl.ClientRoundStatistics{clientStats("a", 10, 0.9)},
			want:  0.5 + 0.5*(0.9-0.5),
		},
		{
			desc:  "clients without scored attempts are ignored",
			cap:   0,
			lr:    1,
			stats: []fl.ClientRoundStatistics{clientStats("a", 10, 0.7), {ClientID: "idle", TaskCount: 1000}},
			want:  0.7,
		},
		{
			desc: "no statistics keeps the policy",
			lr:   1,
			want: 0.5,
			err:  fl.ErrNoStatistics,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			prev := policy.Default()
			for k := range prev.Layers {
				prev.Layers[k].Threshold = 0.5
			}
			prev.Federation = policy.Federation{VolumeCap: tc.cap, LearningRate: tc.lr, MinThreshold: 0, MaxThreshold: 1}

			next, err := fl.NewWeightedAggregator().Aggregate(prev, tc.stats)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
			}
			for k := range next.Layers {
				assert.InDelta(t, tc.want, next.Layers[k].Threshold, 1e-9)
			}
		})
	}
}

func TestWeightedAggregatorTenToOne(t *testing.T) {
	prev := policy.Default()
	prev.Federation = policy.Federation{LearningRate: 1, MaxThreshold: 1}

	next, err := fl.NewWeightedAggregator().Aggregate(prev, []fl.ClientRoundStatistics{
		clientStats("big", 100, 0.8),
		clientStats("small", 10, 0.5),
	})
	require.NoError(t, err)

	// distance to each client's mean is inversely proportional to its weight
	got := next.Layers[0].Threshold
	assert.InDelta(t, 10.0, (got-0.5)/(0.8-got), 1e-9)
}

func TestWeightedAggregatorClampsAndCalibrates(t *testing.T) {
	prev := policy.Default()
	prev.Federation = policy.Federation{LearningRate: 1, MinThreshold: 0.3, MaxThreshold: 0.6}

	s := clientStats("a", 10, 0.95)
	s.Layers[0].Resolved = 4
	s.Layers[2] = fl.LayerStats{Attempts: 2, Scored: 2, Reached: 2, ConfidenceSum: 0.2}

	next, err := fl.NewWeightedAggregator().Aggregate(prev, []fl.ClientRoundStatistics{s})
	require.NoError(t, err)

	assert.InDelta(t, 0.6, next.Layers[0].Threshold, 1e-9)
	assert.InDelta(t, 0.3, next.Layers[2].Threshold, 1e-9)
	assert.InDelta(t, 0.4, next.Calibration.LayerSuccess[0], 1e-9)
	assert.Equal(t, 10, next.Calibration.Samples[0])
	assert.Equal(t, 2, next.Calibration.Samples[2])
}

func TestMergeFailures(t *testing.T) {
	merged := fl.MergeFailures([]fl.ClientRoundStatistics{
		{FailureReasons: map[string]int{"adapter_timeout": 2, "attempts_exhausted": 1}},
		{FailureReasons: map[string]int{"adapter_timeout": 3}},
		{},
	})

	assert.Equal(t, map[string]int{"adapter_timeout": 5, "attempts_exhausted": 1}, merged)
}

func TestWeight(t *testing.T) {
	assert.InDelta(t, 0.0, fl.Weight(0, 10), 1e-9)
	assert.InDelta(t, 5.0, fl.Weight(5, 10), 1e-9)
	assert.InDelta(t, 10.0, fl.Weight(50, 10), 1e-9)
	assert.InDelta(t, 50.0, fl.Weight(50, 0), 1e-9)
}
