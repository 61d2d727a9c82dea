package sound

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPath(t *testing.T) {
	p := &Player{dir: "/sounds"}
	assert.Equal(t, "/sounds/alarm.wav", p.path(Alarm))
}

func TestPlayNeverBlocks(t *testing.T) {
	p := &Player{dir: "/sounds", sounds: make(chan string, 1)}
	p.Play(Start)
	p.Play(Finish) // Dropped.
	assert.Equal(t, "/sounds/start.wav", <-p.sounds)

	p.Close()
	assert.NotPanics(t, func() { p.Play(Beep) })
}
