// Package tunable holds the live-adjustable parameters of the vehicle.
// Every value is a float64 read and written atomically, so the control loop
// can read parameters on every tick while the API updates them.
package tunable

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

type Tunable struct {
	Name    string
	Default float64

	clamped  bool
	min, max float64

	bits atomic.Uint64
}

func (t *Tunable) Get() float64 {
	return math.Float64frombits(t.bits.Load())
}

// Int returns the value rounded to the nearest integer.
func (t *Tunable) Int() int {
	return int(math.Round(t.Get()))
}

func (t *Tunable) set(v float64) float64 {
	if t.clamped {
		v = math.Max(t.min, math.Min(t.max, v))
	}
	t.bits.Store(math.Float64bits(v))
	return v
}

type Tunables struct {
	All    []*Tunable
	byName map[string]*Tunable

	// Bumped on every change so readers can cheaply notice updates.
	generation atomic.Uint64

	saveLock sync.Mutex
}

func (t *Tunables) Create(name string, value float64) *Tunable {
	if t.byName == nil {
		t.byName = map[string]*Tunable{}
	}
	if _, ok := t.byName[name]; ok {
		panic(fmt.Sprintf("duplicate tunable %q", name))
	}
	newTunable := &Tunable{
		Name:    name,
		Default: value,
	}
	newTunable.set(value)
	t.All = append(t.All, newTunable)
	t.byName[name] = newTunable
	return newTunable
}

// CreateClamped creates a tunable whose value is always held within
// [min, max].
func (t *Tunables) CreateClamped(name string, value, min, max float64) *Tunable {
	tu := t.Create(name, value)
	tu.clamped = true
	tu.min, tu.max = min, max
	tu.set(value)
	return tu
}

func (t *Tunables) Lookup(name string) (*Tunable, bool) {
	tu, ok := t.byName[name]
	return tu, ok
}

func (t *Tunables) Get(name string) (float64, error) {
	tu, ok := t.byName[name]
	if !ok {
		return 0, errors.Errorf("unknown parameter %q", name)
	}
	return tu.Get(), nil
}

// Set updates a single parameter and returns the value actually stored,
// after clamping.
func (t *Tunables) Set(name string, v float64) (float64, error) {
	tu, ok := t.byName[name]
	if !ok {
		return 0, errors.Errorf("unknown parameter %q", name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("parameter %q: non-finite value", name)
	}
	stored := tu.set(v)
	t.generation.Add(1)
	return stored, nil
}

// SetMany applies all of values, or none of them if any key is unknown or
// any value non-finite.
func (t *Tunables) SetMany(values map[string]float64) error {
	for name, v := range values {
		if _, ok := t.byName[name]; !ok {
			return errors.Errorf("unknown parameter %q", name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("parameter %q: non-finite value", name)
		}
	}
	for name, v := range values {
		t.byName[name].set(v)
	}
	t.generation.Add(1)
	return nil
}

// Values returns a copy of every parameter's current value.
func (t *Tunables) Values() map[string]float64 {
	out := make(map[string]float64, len(t.All))
	for _, tu := range t.All {
		out[tu.Name] = tu.Get()
	}
	return out
}

func (t *Tunables) Names() []string {
	names := make([]string, 0, len(t.All))
	for _, tu := range t.All {
		names = append(names, tu.Name)
	}
	sort.Strings(names)
	return names
}

func (t *Tunables) Reset() {
	for _, tu := range t.All {
		tu.set(tu.Default)
	}
	t.generation.Add(1)
}

func (t *Tunables) Generation() uint64 {
	return t.generation.Load()
}
