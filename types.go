package backflow

import "github.com/arloliu/backflow/types"

// Re-export types from the types package.
//
// Internal packages depend on types only, which keeps them free of import
// cycles while callers can still write backflow.Task, backflow.Logger, etc.
type (
	Task          = types.Task
	TaskResult    = types.TaskResult
	OutcomeKey    = types.OutcomeKey
	OutcomeRecord = types.OutcomeRecord
	OutcomeUpdate = types.OutcomeUpdate
	MappingState  = types.MappingState
	Adjustment    = types.Adjustment
	Event         = types.Event
	EventKind     = types.EventKind
	Record        = types.Record
	BatchReport   = types.BatchReport
	State         = types.State
)

// Re-export interfaces from the types package for convenience.
type (
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// MaxAttempts is the per-partition attempt budget of a task.
const MaxAttempts = types.MaxAttempts

// Re-export Adjustment constants.
const (
	AdjustmentNone      = types.AdjustmentNone
	AdjustmentIncrement = types.AdjustmentIncrement
	AdjustmentDecrement = types.AdjustmentDecrement
	AdjustmentDisable   = types.AdjustmentDisable
	AdjustmentEnable    = types.AdjustmentEnable
)

// Re-export EventKind constants.
const (
	EventKindStream    = types.EventKindStream
	EventKindScheduled = types.EventKindScheduled
)

// Re-export State constants.
const (
	StateInit     = types.StateInit
	StateRunning  = types.StateRunning
	StateDisabled = types.StateDisabled
	StateBackoff  = types.StateBackoff
	StateFatal    = types.StateFatal
	StateStopped  = types.StateStopped
)

// StreamEvent builds a stream delivery event.
func StreamEvent(records []Record) Event { return types.StreamEvent(records) }

// ScheduledEvent builds a scheduled tick event.
func ScheduledEvent() Event { return types.ScheduledEvent() }
