// Package qos decides which waiting tasks run and how fast, given the
// memory-pressure capacity of the host.
package qos

import "errors"

// ErrPressureLevel is returned for a memory-pressure level outside 0..7.
var ErrPressureLevel = errors.New("qos: memory pressure level out of range")

// Level is a speed tier. Its value is the cap in KiB/s; 0 is unlimited.
type Level int64

const (
	High   Level = 0
	Middle Level = 800
	Low    Level = 400
)

func (l Level) String() string {
	switch l {
	case High:
		return "high"
	case Middle:
		return "middle"
	case Low:
		return "low"
	}
	return "unknown"
}

// Speed returns the tier cap in bytes per second; 0 means no cap.
func (l Level) Speed() int64 { return int64(l) * 1024 }

// Capacity is the tiered admission budget for one memory-pressure level.
// The first M1 admitted tasks run at Speed1, the next M2 at Speed2 and the
// next M3 at Speed3.
type Capacity struct {
	M1, M2, M3             int
	Speed1, Speed2, Speed3 Level
}

// MaxPressureLevel is the highest accepted memory-pressure level.
const MaxPressureLevel = 7

var presets = [MaxPressureLevel + 1]Capacity{
	{8, 32, 8, High, Middle, Low},
	{8, 24, 8, High, Middle, Low},
	{8, 16, 8, High, Middle, Low},
	{8, 16, 4, High, Middle, Low},
	{4, 16, 4, High, Low, Low},
	{4, 8, 4, High, Low, Low},
	{4, 8, 2, Middle, Low, Low},
	{4, 4, 2, Middle, Low, Low},
}

// NewCapacity returns the preset for a memory-pressure level.
func NewCapacity(level int) (Capacity, error) {
	if level < 0 || level > MaxPressureLevel {
		return Capacity{}, ErrPressureLevel
	}
	return presets[level], nil
}

// Total is the number of tasks admitted across all tiers.
func (c Capacity) Total() int { return c.M1 + c.M2 + c.M3 }

// tier returns the speed tier of the task at admission position pos.
func (c Capacity) tier(pos int) (Level, bool) {
	switch {
	case pos < c.M1:
		return c.Speed1, true
	case pos < c.M1+c.M2:
		return c.Speed2, true
	case pos < c.Total():
		return c.Speed3, true
	}
	return 0, false
}
