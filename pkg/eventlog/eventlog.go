// Package eventlog keeps the most recent control-loop log lines so they can
// be served to remote clients, while still echoing everything to stdout.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/ringbuf"
	"github.com/tigerbot-team/tigerbot/linefollower/pkg/timeutil"
)

const DefaultCapacity = 50

type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

type Log struct {
	clock timeutil.Clock

	lock    sync.Mutex
	entries *ringbuf.Ring[Entry]

	// Quiet suppresses the stdout echo.
	Quiet bool
}

func New(clock timeutil.Clock, capacity int) *Log {
	return &Log{
		clock:   clock,
		entries: ringbuf.New[Entry](capacity),
	}
}

func (l *Log) Logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !l.Quiet {
		fmt.Println(msg)
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	l.entries.Push(Entry{Time: l.clock.Now(), Message: msg})
}

// Prefixed returns a log function that tags each line with the given
// component name.
func (l *Log) Prefixed(name string) func(string, ...any) {
	return func(f string, args ...any) {
		l.Logf(name+": "+f, args...)
	}
}

// Entries returns the retained lines, oldest first.
func (l *Log) Entries() []Entry {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.entries.Slice()
}

func (l *Log) Clear() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.entries.Reset()
}
