package sequencer

import "time"

const (
	minShortPress = 50 * time.Millisecond
	longPress     = 2 * time.Second
)

type pressEvent int

const (
	pressNone pressEvent = iota
	pressShort
	pressLong
)

// pressTracker turns raw button samples into short and long presses.  A
// press is classified on release; anything under minShortPress is bounce.
type pressTracker struct {
	down      bool
	since     time.Time
	processed bool
}

func (p *pressTracker) update(now time.Time, pressed bool) pressEvent {
	switch {
	case pressed && !p.down && !p.processed:
		p.down = true
		p.since = now
	case !pressed && p.down && !p.processed:
		held := now.Sub(p.since)
		if held >= longPress {
			p.processed = true
			return pressLong
		}
		if held >= minShortPress {
			p.processed = true
			return pressShort
		}
		p.down = false
	case !pressed && p.processed:
		p.processed = false
		p.down = false
	}
	return pressNone
}

// pollButton queues the button's effect through the command mailbox so it
// obeys the same ordering as remote commands.
func (s *Sequencer) pollButton(now time.Time) {
	if s.buttonSource == nil {
		return
	}
	var cmd Command
	switch s.press.update(now, s.buttonSource.Pressed()) {
	case pressShort:
		cmd = Command{Kind: CmdToggleRun}
	case pressLong:
		cmd = Command{Kind: CmdResetStats}
	default:
		return
	}
	if err := s.cmds.Post(cmd); err != nil {
		s.log("Dropped button press: %v", err)
	}
}
