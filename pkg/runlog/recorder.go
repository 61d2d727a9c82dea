package runlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tigerbot-team/tigerbot/linefollower/pkg/measure"
)

const (
	recordQueueLen = 8
	writeTimeout   = 5 * time.Second
)

type Log func(string, ...any)

type pending struct {
	m     Measurement
	trace []measure.Sample
}

// Recorder hands measurements from the control loop to the database on a
// background goroutine so a slow write never stalls a tick.
type Recorder struct {
	store     *Store
	log       Log
	sessionID uuid.UUID
	queue     chan pending
}

func NewRecorder(store *Store, log Log) *Recorder {
	if log == nil {
		log = func(f string, a ...any) { fmt.Printf(f+"\n", a...) }
	}
	return &Recorder{
		store:     store,
		log:       log,
		sessionID: uuid.New(),
		queue:     make(chan pending, recordQueueLen),
	}
}

func (r *Recorder) SessionID() uuid.UUID {
	return r.sessionID
}

// Record queues a measurement.  If the writer has fallen behind the
// measurement is dropped and logged.
func (r *Recorder) Record(res measure.Result, trace []measure.Sample) {
	p := pending{
		m: Measurement{
			ID:        uuid.New(),
			SessionID: r.sessionID,
			Result:    res,
		},
		trace: trace,
	}
	select {
	case r.queue <- p:
	default:
		r.log("Runlog: queue full, dropping measurement %v", p.m.ID)
	}
}

// Loop writes queued measurements until ctx is done, then flushes what is
// left.
func (r *Recorder) Loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case p := <-r.queue:
					r.write(p)
				default:
					return
				}
			}
		case p := <-r.queue:
			r.write(p)
		}
	}
}

func (r *Recorder) write(p pending) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.Record(ctx, p.m, p.trace); err != nil {
		r.log("Runlog: failed to record measurement %v: %v", p.m.ID, err)
		return
	}
	r.log("Runlog: recorded measurement %v (%.1fmm, valid=%v, %d trace samples)",
		p.m.ID, p.m.Result.LengthMm, p.m.Result.Valid, len(p.trace))
}
