package events

import (
	"errors"
	"fmt"
	"time"
)

// Stage names a milestone in a studio operation.
type Stage string

// Supported lifecycle stages.
const (
	StageStartRequested Stage = "START_REQUESTED"
	StageStarted        Stage = "STARTED"
	StageStartFailed    Stage = "START_FAILED"
	StageStopRequested  Stage = "STOP_REQUESTED"
	StageStopped        Stage = "STOPPED"
	StageStopFailed     Stage = "STOP_FAILED"
)

// Op is the operation a stage belongs to.
type Op string

// Operations exposed by the gateway.
const (
	OpStart Op = "start"
	OpStop  Op = "stop"
)

// Result is the coarse outcome of a stage.
type Result string

// Outcomes used as metric labels.
const (
	ResultPending Result = "pending"
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// Op maps the stage to its operation; unknown stages return "".
func (s Stage) Op() Op {
	switch s {
	case StageStartRequested, StageStarted, StageStartFailed:
		return OpStart
	case StageStopRequested, StageStopped, StageStopFailed:
		return OpStop
	default:
		return ""
	}
}

// Result reports whether the stage opens, completes, or fails an operation.
func (s Stage) Result() Result {
	switch s {
	case StageStarted, StageStopped:
		return ResultSuccess
	case StageStartFailed, StageStopFailed:
		return ResultError
	default:
		return ResultPending
	}
}

// Terminal is true for stages that close an operation.
func (s Stage) Terminal() bool {
	return s.Result() != ResultPending
}

// Event captures one milestone of a studio start or stop.
type Event struct {
	// OperationID ties the requested stage to its terminal stage.
	OperationID string
	// RequestID is the inbound HTTP request ID when there is one.
	RequestID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// StudioID is the backend identifier; empty until the backend assigns one.
	StudioID  string
	Name      string
	Teamspace string
	User      string
	// Status is the backend-reported studio state on success.
	Status string
	// Dur is the wall time of the remote call on terminal stages.
	Dur time.Duration
	// Note carries the error text of failed stages.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.OperationID == "" {
		return errors.New("operation id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	// Start names pass through from callers unchecked and may be empty.
	switch e.Stage.Op() {
	case OpStart:
	case OpStop:
		if e.StudioID == "" {
			return fmt.Errorf("%s requires studio id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
