package noise

import (
	"github.com/skypro1111/avatar-agent/internal/audio"
)

// Options configures the adaptive noise gate
type Options struct {
	// Ratio is how far above the noise floor a frame must be to pass untouched
	Ratio float64
	// Reduction is the gain applied to gated frames, 0-1
	Reduction float64
	// FloorRise is the per-frame rate at which the floor follows louder noise
	FloorRise float64
	// MinFloor seeds the floor and bounds it from below (normalized RMS)
	MinFloor float64
	// Attack is the per-frame smoothing applied to gain changes
	Attack float64
}

// DefaultOptions returns the settings used by BVC
func DefaultOptions() Options {
	return Options{
		Ratio:     2.0,
		Reduction: 0.1,
		FloorRise: 0.01,
		MinFloor:  0.005,
		Attack:    0.5,
	}
}

// Gate attenuates frames whose level stays near the tracked noise floor.
// A Gate keeps per-stream state and is not safe for concurrent use.
type Gate struct {
	opts Options

	floor float64
	gain  float64

	processed int
	gated     int
}

// BVC returns the background voice cancellation filter applied to room input
func BVC() *Gate {
	return NewGate(DefaultOptions())
}

// NewGate creates a gate; out-of-range options fall back to the defaults
func NewGate(opts Options) *Gate {
	def := DefaultOptions()
	if opts.Ratio < 1 {
		opts.Ratio = def.Ratio
	}
	if opts.Reduction < 0 || opts.Reduction > 1 {
		opts.Reduction = def.Reduction
	}
	if opts.FloorRise <= 0 || opts.FloorRise >= 1 {
		opts.FloorRise = def.FloorRise
	}
	if opts.MinFloor <= 0 || opts.MinFloor >= 1 {
		opts.MinFloor = def.MinFloor
	}
	if opts.Attack <= 0 || opts.Attack > 1 {
		opts.Attack = def.Attack
	}
	return &Gate{opts: opts, floor: opts.MinFloor, gain: 1}
}

// Process implements audio.Filter
func (g *Gate) Process(frame audio.Frame) audio.Frame {
	if len(frame.Samples) == 0 {
		return frame
	}

	level := frame.RMS()
	noise := level <= g.floor*g.opts.Ratio
	g.trackFloor(level, noise)

	target := 1.0
	if noise {
		target = g.opts.Reduction
		g.gated++
	}
	g.processed++

	g.gain += (target - g.gain) * g.opts.Attack
	if g.gain > 0.999 {
		g.gain = 1
		return frame
	}
	return audio.Scale(frame, g.gain)
}

// The floor drops immediately to quieter levels, never below MinFloor, and
// rises slowly only on frames classified as noise. Speech never moves it up.
func (g *Gate) trackFloor(level float64, noise bool) {
	switch {
	case level < g.floor:
		g.floor = max(level, g.opts.MinFloor)
	case noise:
		g.floor += (level - g.floor) * g.opts.FloorRise
	}
}

// Floor returns the current noise floor estimate (normalized RMS)
func (g *Gate) Floor() float64 { return g.floor }

// Gain returns the gain applied to the last frame
func (g *Gate) Gain() float64 { return g.gain }

// Stats returns how many frames were processed and how many were gated
func (g *Gate) Stats() (processed, gated int) {
	return g.processed, g.gated
}

// Reset returns the floor estimate to MinFloor
func (g *Gate) Reset() {
	g.floor = g.opts.MinFloor
	g.gain = 1
	g.processed = 0
	g.gated = 0
}

var _ audio.Filter = (*Gate)(nil)
