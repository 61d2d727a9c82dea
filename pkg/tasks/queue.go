package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

type Log func(string, ...any)

// Queue runs its tasks in order, one at a time.  It's driven from the
// control loop and isn't safe for concurrent use.
type Queue struct {
	log Log

	tasks     []*Task
	current   int
	nextID    int
	executing bool
}

func NewQueue(log Log) *Queue {
	if log == nil {
		log = func(f string, a ...any) { fmt.Printf(f+"\n", a...) }
	}
	return &Queue{
		log:    log,
		nextID: 1,
	}
}

func (q *Queue) Add(kind Kind, params Params, description string) (int, error) {
	if _, ok := ActionFor(kind); !ok {
		return 0, errors.Errorf("unknown task kind %d", int(kind))
	}
	t := &Task{
		ID:          q.nextID,
		Kind:        kind,
		Status:      Pending,
		Params:      params,
		Description: description,
	}
	q.nextID++
	q.tasks = append(q.tasks, t)
	q.log("Task added: id=%d kind=%v %s", t.ID, t.Kind, description)
	return t.ID, nil
}

func (q *Queue) Remove(id int) bool {
	for i, t := range q.tasks {
		if t.ID != id {
			continue
		}
		q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
		if i < q.current {
			q.current--
		}
		q.log("Task removed: id=%d", id)
		return true
	}
	return false
}

func (q *Queue) Clear() {
	q.tasks = nil
	q.current = 0
	q.executing = false
	q.log("All tasks cleared")
}

func (q *Queue) Start() {
	if len(q.tasks) == 0 {
		q.log("No tasks to execute")
		return
	}
	for _, t := range q.tasks {
		t.Status = Pending
	}
	q.current = 0
	q.executing = true
	q.log("Task execution started: %d tasks", len(q.tasks))
}

func (q *Queue) Pause() {
	q.executing = false
	q.log("Task execution paused")
}

// Stop halts execution and rewinds to the first task.  A task that was
// running goes back to pending.
func (q *Queue) Stop() {
	q.executing = false
	q.current = 0
	for _, t := range q.tasks {
		if t.Status == Running {
			t.Status = Pending
		}
	}
	q.log("Task execution stopped")
}

// Update advances the current task by one step.
func (q *Queue) Update(env Env) {
	if !q.executing || len(q.tasks) == 0 {
		return
	}
	if q.current >= len(q.tasks) {
		q.executing = false
		q.log("All tasks completed")
		return
	}

	t := q.tasks[q.current]
	action, _ := ActionFor(t.Kind)
	switch t.Status {
	case Pending:
		t.Status = Running
		t.StartTime = env.Now()
		o := env.Odometry()
		t.startLeftMm, t.startRightMm = o.LeftDistanceMm, o.RightDistanceMm
		q.log("Executing task %d/%d: %v %s", q.current+1, len(q.tasks), t.Kind, t.Description)
		if err := action.Execute(env, t); err != nil {
			t.Status = Failed
			q.log("Task %d failed: %v", t.ID, err)
		}
	case Running:
		if action.IsComplete(env, t) {
			t.Status = Completed
			q.log("Task %d completed in %v", t.ID, env.Now().Sub(t.StartTime))
			q.current++
		}
	case Failed:
		q.executing = false
		q.log("Task sequence stopped due to failure")
	case Completed:
		q.current++
	}
}

// RebaseTravel shifts the starting wheel travel of the running task down by
// the given amounts, keeping its progress across an odometry reset.
func (q *Queue) RebaseTravel(leftMm, rightMm float64) {
	t := q.Current()
	if t == nil || t.Status != Running {
		return
	}
	t.startLeftMm -= leftMm
	t.startRightMm -= rightMm
}

func (q *Queue) Executing() bool {
	return q.executing
}

// Done is true once every task has run.
func (q *Queue) Done() bool {
	return q.current >= len(q.tasks) && !q.executing
}

func (q *Queue) Current() *Task {
	if q.current < len(q.tasks) {
		return q.tasks[q.current]
	}
	return nil
}

func (q *Queue) CurrentIndex() int {
	return q.current
}

func (q *Queue) Len() int {
	return len(q.tasks)
}

// Tasks returns a copy of the task list.
func (q *Queue) Tasks() []Task {
	out := make([]Task, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = *t
	}
	return out
}

// State is the serialised form of the queue.
type State struct {
	Tasks        []Task `json:"tasks"`
	CurrentIndex int    `json:"currentIndex"`
	Executing    bool   `json:"executing"`
	Total        int    `json:"total"`
}

func (q *Queue) State() State {
	return State{
		Tasks:        q.Tasks(),
		CurrentIndex: q.current,
		Executing:    q.executing,
		Total:        len(q.tasks),
	}
}

func (q *Queue) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.State())
}

// Spec describes a task to be added.
type Spec struct {
	Kind        Kind   `json:"kind"`
	Params      Params `json:"params"`
	Description string `json:"description,omitempty"`
}

// ParseSpecs decodes a task list of the form {"tasks": [...]}.
func ParseSpecs(data []byte) ([]Spec, error) {
	var doc struct {
		Tasks []Spec `json:"tasks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse task list")
	}
	return doc.Tasks, nil
}

// Replace clears the queue and adds specs in order.
func (q *Queue) Replace(specs []Spec) error {
	q.Clear()
	for _, s := range specs {
		if _, err := q.Add(s.Kind, s.Params, s.Description); err != nil {
			return err
		}
	}
	q.log("Loaded %d tasks", len(specs))
	return nil
}
