package hardware

import "math"

const (
	lostLineReads    = 3
	lostSearchFactor = 1.2
	maxLinePosition  = 1000
)

var DefaultLineWeights = [NumLineSensors]int{-1000, -700, -400, -100, 100, 400, 700, 1000}

// BitmaskSource returns one reading of the sensor bar, one bit per channel,
// set where the channel sees the line.
type BitmaskSource interface {
	ReadBitmask() (uint8, error)
}

// WeightedLineSensor turns bitmask readings into a line position: the mean
// weight of the channels that see the line.
type WeightedLineSensor struct {
	src     BitmaskSource
	weights [NumLineSensors]int

	dataReady bool
	bitmask   uint8
	position  int
	lastValid int
	lostCount int
}

func NewWeightedLineSensor(src BitmaskSource) *WeightedLineSensor {
	return &WeightedLineSensor{
		src:     src,
		weights: DefaultLineWeights,
	}
}

var _ LineSensor = (*WeightedLineSensor)(nil)

// Update reads the sensor.  On error the previous reading is kept but
// DataReady reports false until a read succeeds.
func (s *WeightedLineSensor) Update() error {
	mask, err := s.src.ReadBitmask()
	if err != nil {
		s.dataReady = false
		return err
	}
	s.dataReady = true
	s.bitmask = mask

	var weightedSum, active int
	for i := 0; i < NumLineSensors; i++ {
		if mask&(1<<i) != 0 {
			weightedSum += s.weights[i]
			active++
		}
	}
	if active == 0 {
		s.lostCount++
		s.position = clampPosition(int(float64(s.lastValid) * lostSearchFactor))
		return nil
	}
	s.lostCount = 0
	s.position = clampPosition(weightedSum / active)
	s.lastValid = s.position
	return nil
}

func (s *WeightedLineSensor) DataReady() bool {
	return s.dataReady
}

func (s *WeightedLineSensor) Position() int {
	return s.position
}

// LastPosition is the most recent position computed while the line was
// visible.
func (s *WeightedLineSensor) LastPosition() int {
	return s.lastValid
}

func (s *WeightedLineSensor) RawBitmask() uint8 {
	return s.bitmask
}

func (s *WeightedLineSensor) LostLine() bool {
	return s.lostCount >= lostLineReads
}

func (s *WeightedLineSensor) SetWeights(w [NumLineSensors]int) {
	s.weights = w
}

func (s *WeightedLineSensor) Weights() [NumLineSensors]int {
	return s.weights
}

func clampPosition(p int) int {
	return int(math.Max(-maxLinePosition, math.Min(maxLinePosition, float64(p))))
}
