package gaze

import (
	"context"
	"math"
	"time"
)

// Synthetic generates a slow elliptical sweep for bench testing without a
// tracker.
type Synthetic struct {
	// Interval between samples. Defaults to 1/30 s.
	Interval time.Duration
	// Period of one full sweep. Defaults to 8 s.
	Period time.Duration
	// Amplitude of the sweep on each axis, in tracker units.
	AmplitudeX float32
	AmplitudeY float32
}

var _ Source = (*Synthetic)(nil)

// At returns the sample of the sweep at elapsed time t.
func (g *Synthetic) At(t time.Duration) Sample {
	period := g.Period
	if period <= 0 {
		period = 8 * time.Second
	}
	phase := 2 * math.Pi * float64(t%period) / float64(period)
	return Sample{
		X:            g.AmplitudeX * float32(math.Cos(phase)),
		Y:            g.AmplitudeY * float32(math.Sin(phase)),
		FaceDetected: true,
	}
}

func (g *Synthetic) Run(ctx context.Context, out chan Sample) error {
	interval := g.Interval
	if interval <= 0 {
		interval = time.Second / 30
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s := g.At(now.Sub(start))
			s.At = now
			Offer(out, s)
		}
	}
}
