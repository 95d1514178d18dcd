package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage is a pipeline state. Stages run in declaration order; [StageDone] and
// [StageFailed] are terminal.
type Stage int

const (
	StageProvision Stage = iota
	StageToolchain
	StageBuild
	StageExecute
	StageTag
	StageRender
	StageDone
	StageFailed
)

// ErrUnknownStage indicates an unrecognized stage name.
var ErrUnknownStage = errors.New("unknown stage")

var stageNames = [...]string{
	StageProvision: "provision",
	StageToolchain: "toolchain",
	StageBuild:     "build",
	StageExecute:   "execute",
	StageTag:       "tag",
	StageRender:    "render",
	StageDone:      "done",
	StageFailed:    "failed",
}

// Stages returns the runnable stages in execution order.
func Stages() []Stage {
	return []Stage{StageProvision, StageToolchain, StageBuild, StageExecute, StageTag, StageRender}
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}

	return stageNames[s]
}

// Terminal reports whether s ends a run.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// next returns the stage that follows s after it succeeds.
func (s Stage) next() Stage {
	if s.Terminal() {
		return s
	}

	return s + 1
}

// ParseStage returns the runnable [Stage] named name.
func ParseStage(name string) (Stage, error) {
	for _, s := range Stages() {
		if strings.EqualFold(name, s.String()) {
			return s, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// Status describes what happened to a stage.
type Status string

const (
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusDegraded means the stage failed without aborting the run.
	StatusDegraded Status = "degraded"
	StatusSkipped  Status = "skipped"
)

// Event reports a stage transition to an [Observer].
type Event struct {
	Err      error
	Detail   string
	Stage    Stage
	Status   Status
	Duration time.Duration
}

// Observer receives [Event]s synchronously from the goroutine running the
// pipeline. Implementations must not block.
type Observer func(Event)
