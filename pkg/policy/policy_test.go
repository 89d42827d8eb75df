package policy_test

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, policy.Default().Validate())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		desc   string
		mutate func(p *policy.Policy)
		valid  bool
	}{
		{
			desc:   "default policy",
			mutate: func(_ *policy.Policy) {},
			valid:  true,
		},
		{
			desc:   "threshold above one",
			mutate: func(p *policy.Policy) { p.Layers[1].Threshold = 1.2 },
		},
		{
			desc:   "negative attempts",
			mutate: func(p *policy.Policy) { p.Layers[0].MaxAttempts = -1 },
		},
		{
			desc:   "zero attempts skips the layer",
			mutate: func(p *policy.Policy) { p.Layers[0].MaxAttempts = 0 },
			valid:  true,
		},
		{
			desc:   "unknown fallback",
			mutate: func(p *policy.Policy) { p.Fallback = "random" },
		},
		{
			desc:   "zero concurrency",
			mutate: func(p *policy.Policy) { p.Concurrency = 0 },
		},
		{
			desc:   "hard deadline before round deadline",
			mutate: func(p *policy.Policy) { p.HardDeadline = policy.Duration(time.Second) },
		},
		{
			desc: "all weights zero",
			mutate: func(p *policy.Policy) {
				p.Weights = policy.Weights{SizeDecay: 0.08}
			},
		},
		{
			desc:   "NaN threshold",
			mutate: func(p *policy.Policy) { p.Layers[2].Threshold = math.NaN() },
		},
		{
			desc:   "infinite weight",
			mutate: func(p *policy.Policy) { p.Weights.Similarity = math.Inf(1) },
		},
		{
			desc:   "NaN weight",
			mutate: func(p *policy.Policy) { p.Weights.SizeDecay = math.NaN() },
		},
		{
			desc:   "NaN calibration",
			mutate: func(p *policy.Policy) { p.Calibration.LayerSuccess[0] = math.NaN() },
		},
		{
			desc:   "NaN learning rate",
			mutate: func(p *policy.Policy) { p.Federation.LearningRate = math.NaN() },
		},
		{
			desc:   "NaN federation bound",
			mutate: func(p *policy.Policy) { p.Federation.MaxThreshold = math.NaN() },
		},
		{
			desc: "inverted federation bounds",
			mutate: func(p *policy.Policy) {
				p.Federation.MinThreshold = 0.9
				p.Federation.MaxThreshold = 0.1
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			p := policy.Default()
			tc.mutate(&p)
			err := p.Validate()
			if tc.valid {
				assert.NoError(t, err)

				return
			}
			assert.ErrorIs(t, err, policy.ErrInvalidPolicy)
		})
	}
}

func TestLayer(t *testing.T) {
	p := policy.Default()
	assert.Equal(t, p.Layers[2], p.Layer(task.Layer3))
	assert.Equal(t, policy.LayerPolicy{}, p.Layer(task.Layer(7)))
}

func TestDurationJSON(t *testing.T) {
	var v struct {
		A policy.Duration `json:"a"`
		B policy.Duration `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"1m30s","b":2}`), &v))
	assert.Equal(t, 90*time.Second, v.A.Std())
	assert.Equal(t, 2*time.Second, v.B.Std())

	data, err := json.Marshal(v.A)
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`{"a":"soon"}`), &v))
}

func TestParse(t *testing.T) {
	tomlDoc := `
fallback = "lowest_cost"
concurrency = 8
round_deadline = "2m"
hard_deadline = "3m"

[[layers]]
threshold = 0.9
max_attempts = 2
timeout = "10s"

[[layers]]
threshold = 0.8
max_attempts = 1
timeout = "20s"

[[layers]]
threshold = 0.7
max_attempts = 4
timeout = "30s"

[trigger]
enabled = true
defect_classes = ["concurrency"]
`
	yamlDoc := `
fallback: lowest_cost
concurrency: 8
round_deadline: 2m
hard_deadline: 3m
layers:
  - {threshold: 0.9, max_attempts: 2, timeout: 10s}
  - {threshold: 0.8, max_attempts: 1, timeout: 20s}
  - {threshold: 0.7, max_attempts: 4, timeout: 30s}
trigger:
  enabled: true
  defect_classes: [concurrency]
`

	cases := []struct {
		desc   string
		data   string
		format policy.Format
	}{
		{desc: "toml", data: tomlDoc, format: policy.FormatTOML},
		{desc: "yaml", data: yamlDoc, format: policy.FormatYAML},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			p, err := policy.Parse([]byte(tc.data), tc.format)
			require.NoError(t, err)

			assert.Equal(t, policy.FallbackLowestCost, p.Fallback)
			assert.Equal(t, 8, p.Concurrency)
			assert.Equal(t, 2*time.Minute, p.RoundDeadline.Std())
			assert.InDelta(t, 0.9, p.Layers[0].Threshold, 1e-9)
			assert.Equal(t, 4, p.Layers[2].MaxAttempts)
			assert.Equal(t, 30*time.Second, p.Layers[2].Timeout.Std())
			assert.True(t, p.Trigger.Enabled)
			assert.Equal(t, []string{"concurrency"}, p.Trigger.DefectClasses)
			// untouched sections keep their defaults
			assert.Equal(t, policy.Default().Weights, p.Weights)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	_, err := policy.Parse([]byte(`{"concurrency": 0}`), policy.FormatJSON)
	assert.ErrorIs(t, err, policy.ErrInvalidPolicy)

	_, err = policy.Parse([]byte(`concurrency = [`), policy.FormatTOML)
	assert.ErrorIs(t, err, policy.ErrInvalidPolicy)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency: 2\n"), 0o600))

	p, err := policy.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Concurrency)

	_, err = policy.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestStoreSwap(t *testing.T) {
	s := policy.NewStore(policy.Default())
	assert.Equal(t, policy.InitialRound, s.Round())

	old := s.Load()

	next := policy.Default()
	next.Layers[0].Threshold = 0.5
	assert.True(t, s.Swap(2, next))
	assert.False(t, s.Swap(2, policy.Default()), "same round must be a no-op")
	assert.False(t, s.Swap(1, policy.Default()), "stale round must be a no-op")

	assert.Equal(t, uint64(2), s.Round())
	assert.InDelta(t, 0.5, s.Load().Policy.Layers[0].Threshold, 1e-9)
	assert.InDelta(t, 0.75, old.Policy.Layers[0].Threshold, 1e-9, "loaded snapshots are immutable")
}

func TestStoreConcurrentSwap(t *testing.T) {
	s := policy.NewStore(policy.Default())

	var wg sync.WaitGroup
	for r := uint64(2); r < 50; r++ {
		wg.Add(1)
		go func(round uint64) {
			defer wg.Done()
			s.Swap(round, policy.Default())
		}(r)
	}
	wg.Wait()

	assert.Equal(t, uint64(49), s.Round())
}

func TestCloneDoesNotAlias(t *testing.T) {
	p := policy.Default()
	p.Trigger.DefectClasses = []string{"a"}
	s := policy.NewStore(p)
	p.Trigger.DefectClasses[0] = "b"

	assert.Equal(t, "a", s.Load().Policy.Trigger.DefectClasses[0])
}
