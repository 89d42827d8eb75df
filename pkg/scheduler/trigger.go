package scheduler

import (
	"slices"
	"strings"

	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/task"
)

// staticTrigger inspects the task before its first attempt: a listed defect
// class or a snapshot large enough to count as structurally complex sends it
// straight to L3.
func (s *Scheduler) staticTrigger(t task.RepairTask, pol policy.Policy) bool {
	tr := pol.Trigger
	if !tr.Enabled || !s.hasLayer(task.Layer3) {
		return false
	}

	if t.DefectClass != "" && slices.ContainsFunc(tr.DefectClasses, func(c string) bool {
		return strings.EqualFold(c, t.DefectClass)
	}) {
		return true
	}

	return tr.MinContextLines > 0 && t.Snapshot.Lines() >= tr.MinContextLines
}

// streakTrigger fires after LowConfidenceStreak consecutive L1 scores below
// LowConfidenceFloor. Failed attempts count as zero.
func (s *Scheduler) streakTrigger(ls *LayerState, pol policy.Policy) bool {
	tr := pol.Trigger
	if !tr.Enabled || tr.LowConfidenceStreak <= 0 || !s.hasLayer(task.Layer3) {
		return false
	}

	return ls.lowStreak >= tr.LowConfidenceStreak
}

func (s *Scheduler) hasLayer(l task.Layer) bool {
	_, ok := s.adapters[l]

	return ok
}
