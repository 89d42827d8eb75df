package agent

import (
	"fmt"
	"strings"

	"github.com/absmach/fedrepair/task"
)

const (
	DefMaxContextLines = 200
	DefMaxTests        = 20
)

// ContextBuilder turns a task into a bounded PatchContext. Build has no side
// effects and returns the same context for the same task.
type ContextBuilder struct {
	MaxContextLines int
	MaxTests        int
}

func NewContextBuilder() ContextBuilder {
	return ContextBuilder{
		MaxContextLines: DefMaxContextLines,
		MaxTests:        DefMaxTests,
	}
}

func (b ContextBuilder) Build(t task.RepairTask) (task.PatchContext, error) {
	if t.ID == "" {
		return task.PatchContext{}, fmt.Errorf("%w: missing id", ErrInvalidTask)
	}
	if strings.TrimSpace(t.Snapshot.Code) == "" && strings.TrimSpace(t.Description) == "" {
		return task.PatchContext{}, fmt.Errorf("%w: neither code nor description", ErrInvalidTask)
	}

	code, offset := b.window(t.Snapshot.Code, t.Location)

	tests := t.Snapshot.FailingTests
	if b.MaxTests > 0 && len(tests) > b.MaxTests {
		tests = tests[:b.MaxTests]
	}

	return task.PatchContext{
		TaskID:       t.ID,
		DefectClass:  t.DefectClass,
		Location:     t.Location,
		Description:  t.Description,
		Code:         code,
		CodeOffset:   offset,
		FailingTests: append([]string(nil), tests...),
		Notes:        t.Snapshot.Notes,
	}, nil
}

// window keeps at most MaxContextLines lines centred on the defect location.
// The returned offset is the 1-based line number of the first kept line.
func (b ContextBuilder) window(code string, loc task.Location) (string, int) {
	if code == "" {
		return "", 0
	}

	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	limit := b.MaxContextLines
	if limit <= 0 || len(lines) <= limit {
		return strings.Join(lines, "\n"), 1
	}

	start, end := loc.StartLine, loc.EndLine
	if start <= 0 || start > len(lines) {
		start = 1
	}
	if end < start {
		end = start
	}
	end = min(end, len(lines))

	span := end - start + 1
	if span >= limit {
		return strings.Join(lines[start-1:start-1+limit], "\n"), start
	}

	first := start - (limit-span)/2
	first = max(first, 1)
	first = min(first, len(lines)-limit+1)

	return strings.Join(lines[first-1:first-1+limit], "\n"), first
}
