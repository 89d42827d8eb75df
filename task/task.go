package task

import (
	"strings"
	"time"
)

type Layer uint8

const (
	Layer1 Layer = iota + 1
	Layer2
	Layer3
)

// TerminalLayer is the most thorough layer; exhausting it ends the task.
const TerminalLayer = Layer3

// Layers lists every repair layer from cheapest to most thorough.
var Layers = []Layer{Layer1, Layer2, Layer3}

func (l Layer) String() string {
	switch l {
	case Layer1:
		return "L1"
	case Layer2:
		return "L2"
	case Layer3:
		return "L3"
	default:
		return "Unknown"
	}
}

func (l Layer) Valid() bool {
	return l >= Layer1 && l <= Layer3
}

// Index returns the zero-based position of the layer in per-layer arrays.
func (l Layer) Index() int {
	return int(l) - 1
}

type Location struct {
	File      string `json:"file"`
	Function  string `json:"function,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

type Snapshot struct {
	Code         string   `json:"code"`
	FailingTests []string `json:"failing_tests,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

// Lines reports how many source lines the snapshot carries.
func (s Snapshot) Lines() int {
	if s.Code == "" {
		return 0
	}

	return strings.Count(strings.TrimRight(s.Code, "\n"), "\n") + 1
}

// RepairTask is immutable once a coordinator has accepted it.
type RepairTask struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id,omitempty"`
	DefectClass string    `json:"defect_class"`
	Location    Location  `json:"location"`
	Description string    `json:"description"`
	Snapshot    Snapshot  `json:"snapshot"`
	CreatedAt   time.Time `json:"created_at"`
}

type TaskPage struct {
	Offset uint64       `json:"offset"`
	Limit  uint64       `json:"limit"`
	Total  uint64       `json:"total"`
	Tasks  []RepairTask `json:"tasks"`
}
