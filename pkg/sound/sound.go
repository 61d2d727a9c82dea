// Package sound plays short wav cues on the vehicle's speaker.
package sound

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const (
	Start    = "start"
	Finish   = "finish"
	Obstacle = "obstacle"
	Measured = "measured"
	Alarm    = "alarm"
	Beep     = "beep"
)

const queueLen = 4

type Player struct {
	dir    string
	sounds chan string
}

// NewPlayer starts the playback goroutine.  Sounds are looked up as
// <dir>/<name>.wav.
func NewPlayer(dir string) *Player {
	p := &Player{
		dir:    dir,
		sounds: make(chan string, queueLen),
	}
	go p.loop()
	return p
}

func (p *Player) path(name string) string {
	return filepath.Join(p.dir, name+".wav")
}

// Play queues a sound, interrupting whatever is playing when it gets to
// it.  It never blocks; if the queue is full the sound is dropped.
func (p *Player) Play(name string) {
	defer func() {
		recover() // Don't die if the channel is already closed.
	}()
	select {
	case p.sounds <- p.path(name):
	default:
		fmt.Println("Sound queue full, dropping", name)
	}
}

func (p *Player) Close() {
	close(p.sounds)
}

func (p *Player) loop() {
	defer func() {
		recover()
		for s := range p.sounds {
			fmt.Println("Unable to play", s)
		}
	}()
	sampleRate := beep.SampleRate(44100)
	err := speaker.Init(sampleRate, sampleRate.N(time.Second/5))
	if err != nil {
		fmt.Println("Failed to open speaker", err)
		for s := range p.sounds {
			fmt.Println("Unable to play", s)
		}
		return
	}
	var ctrl *beep.Ctrl
	var s beep.StreamSeekCloser
	for soundToPlay := range p.sounds {
		if ctrl != nil {
			speaker.Lock()
			ctrl.Paused = true
			ctrl.Streamer = nil
			speaker.Unlock()
			ctrl = nil
		}
		if s != nil {
			_ = s.Close()
			s = nil
		}

		f, err := os.Open(soundToPlay)
		if err != nil {
			fmt.Println("Failed to open sound", err)
			continue
		}
		s, _, err = wav.Decode(f)
		if err != nil {
			fmt.Println("Failed to decode sound", err)
			_ = f.Close()
			s = nil
			continue
		}
		ctrl = &beep.Ctrl{Streamer: s}
		speaker.Play(ctrl)
	}
}
