package sequencer

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/tasks"
)

type CommandKind int

const (
	CmdStartRun CommandKind = iota
	CmdStopRun
	CmdToggleRun
	CmdResetStats

	CmdTestTurn
	CmdTestStraight
	CmdTestAvoid
	CmdTestParking

	CmdManual

	CmdMeasureStart
	CmdMeasureStop
	CmdMeasureReset

	CmdTasksReplace
	CmdTasksStart
	CmdTasksPause
	CmdTasksStop
	CmdTasksClear
)

var commandNames = map[CommandKind]string{
	CmdStartRun:     "start_run",
	CmdStopRun:      "stop_run",
	CmdToggleRun:    "toggle_run",
	CmdResetStats:   "reset_stats",
	CmdTestTurn:     "test_turn",
	CmdTestStraight: "test_straight",
	CmdTestAvoid:    "test_avoid",
	CmdTestParking:  "test_parking",
	CmdManual:       "manual",
	CmdMeasureStart: "measure_start",
	CmdMeasureStop:  "measure_stop",
	CmdMeasureReset: "measure_reset",
	CmdTasksReplace: "tasks_replace",
	CmdTasksStart:   "tasks_start",
	CmdTasksPause:   "tasks_pause",
	CmdTasksStop:    "tasks_stop",
	CmdTasksClear:   "tasks_clear",
}

func (k CommandKind) String() string {
	if n, ok := commandNames[k]; ok {
		return n
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

type ManualAction int

const (
	ManualStop ManualAction = iota
	ManualForward
	ManualBackward
	ManualLeft
	ManualRight
	ManualTurn180
)

var manualNames = map[string]ManualAction{
	"stop":     ManualStop,
	"forward":  ManualForward,
	"backward": ManualBackward,
	"left":     ManualLeft,
	"right":    ManualRight,
	"turn_180": ManualTurn180,
}

func ParseManualAction(s string) (ManualAction, error) {
	if a, ok := manualNames[s]; ok {
		return a, nil
	}
	return 0, errors.Errorf("unknown motion action %q", s)
}

// Command is a request from outside the control loop.  Only the fields
// relevant to Kind are used.
type Command struct {
	Kind CommandKind

	Manual ManualAction
	// Speed for manual drive; zero means the normal speed.
	Value float64

	ThresholdMm int

	Tasks []tasks.Spec
}

const commandQueueDepth = 32

var ErrCommandQueueFull = errors.New("command queue full")

// Commands is the mailbox between the request handlers and the control
// loop.  Any goroutine may Post; only the control loop drains.
type Commands struct {
	pending chan Command
}

func NewCommands() *Commands {
	return &Commands{
		pending: make(chan Command, commandQueueDepth),
	}
}

func (c *Commands) Post(cmd Command) error {
	select {
	case c.pending <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// Drain returns every command posted so far, in order.
func (c *Commands) Drain() []Command {
	var out []Command
	for {
		select {
		case cmd := <-c.pending:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

func (c *Commands) Pending() int {
	return len(c.pending)
}
