package hardware

import (
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

const (
	lineBaud        = 115200
	lineReadTimeout = 8 * time.Millisecond

	lineCmdManualMode = 0
	lineCmdReadState  = 1
)

// SerialLineBar talks to a UART line-sensor module in request/response
// mode: each read sends a request byte and gets back the bitmask.
type SerialLineBar struct {
	port serial.Port
	buf  [1]byte
}

func OpenSerialLineBar(portName string) (*SerialLineBar, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: lineBaud})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open line sensor on %s", portName)
	}
	if err := port.SetReadTimeout(lineReadTimeout); err != nil {
		_ = port.Close()
		return nil, errors.Wrap(err, "failed to set line sensor read timeout")
	}
	_ = port.ResetInputBuffer()
	if _, err := port.Write([]byte{lineCmdManualMode}); err != nil {
		_ = port.Close()
		return nil, errors.Wrap(err, "failed to put line sensor into manual mode")
	}
	time.Sleep(50 * time.Millisecond)
	_ = port.ResetInputBuffer()
	return &SerialLineBar{port: port}, nil
}

var _ BitmaskSource = (*SerialLineBar)(nil)

func (b *SerialLineBar) ReadBitmask() (uint8, error) {
	// Drop anything left over from a request that timed out.
	if err := b.port.ResetInputBuffer(); err != nil {
		return 0, errors.Wrap(err, "failed to flush line sensor")
	}
	b.buf[0] = lineCmdReadState
	if _, err := b.port.Write(b.buf[:]); err != nil {
		return 0, errors.Wrap(err, "failed to request line state")
	}
	n, err := b.port.Read(b.buf[:])
	if err != nil {
		return 0, errors.Wrap(err, "failed to read line state")
	}
	if n == 0 {
		return 0, errors.New("line sensor timed out")
	}
	return b.buf[0], nil
}

func (b *SerialLineBar) Close() error {
	return b.port.Close()
}
