package task

import "time"

// Signals is the per-signal breakdown behind a confidence value. Optional
// signals that could not be computed are reported as nil.
type Signals struct {
	Validity     float64  `json:"validity"`
	SelfReported float64  `json:"self_reported"`
	Size         float64  `json:"size"`
	Similarity   *float64 `json:"similarity,omitempty"`
	Validation   *float64 `json:"validation,omitempty"`
	History      *float64 `json:"history,omitempty"`
}

type ConfidenceScore struct {
	Value   float64 `json:"value"`
	Signals Signals `json:"signals"`
}

// Patch is a candidate produced by one adapter attempt. Attempt is the
// task-wide attempt index and keeps growing across layers.
type Patch struct {
	ID             string          `json:"id"`
	TaskID         string          `json:"task_id"`
	Layer          Layer           `json:"layer"`
	Attempt        int             `json:"attempt"`
	Diff           string          `json:"diff"`
	Agent          string          `json:"agent,omitempty"`
	SelfConfidence float64         `json:"self_confidence"`
	Explanation    string          `json:"explanation,omitempty"`
	Confidence     ConfidenceScore `json:"confidence"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Feedback describes the previous candidate when an attempt is retried.
type Feedback struct {
	Attempt    int     `json:"attempt"`
	Layer      Layer   `json:"layer"`
	Diff       string  `json:"diff,omitempty"`
	Confidence float64 `json:"confidence"`
	Failure    string  `json:"failure,omitempty"`
}

// PatchContext is the bounded, self-contained input handed to an agent.
type PatchContext struct {
	TaskID       string    `json:"task_id"`
	DefectClass  string    `json:"defect_class"`
	Location     Location  `json:"location"`
	Description  string    `json:"description"`
	Code         string    `json:"code"`
	CodeOffset   int       `json:"code_offset"`
	FailingTests []string  `json:"failing_tests,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	Layer        Layer     `json:"layer"`
	Attempt      int       `json:"attempt"`
	Feedback     *Feedback `json:"feedback,omitempty"`
}
