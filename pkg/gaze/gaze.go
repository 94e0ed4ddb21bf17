// Package gaze receives raw gaze samples from an external face tracker.
//
// The tracker itself is out of scope; it delivers samples as small JSON
// documents, {"x":0.12,"y":-0.03,"face":true}, over a websocket or an MQTT
// topic. Sources push into a bounded channel and drop the oldest sample
// when the consumer falls behind, so the fixture always follows the latest
// gaze.
package gaze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrBadSample is returned by ParseSample for documents that are not samples.
var ErrBadSample = errors.New("bad gaze sample")

// Sample is one reading of the tracker. X and Y are in the tracker's own
// coordinate space. At is the receive time.
type Sample struct {
	X            float32   `json:"x"`
	Y            float32   `json:"y"`
	FaceDetected bool      `json:"face"`
	At           time.Time `json:"-"`
}

type wireSample struct {
	X    *float32 `json:"x"`
	Y    *float32 `json:"y"`
	Face *bool    `json:"face"`
}

// ParseSample decodes a JSON sample. A sample without a face may omit the
// coordinates; "face" defaults to true when coordinates are present.
func ParseSample(b []byte) (Sample, error) {
	var w wireSample
	if err := json.Unmarshal(b, &w); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrBadSample, err)
	}

	var s Sample
	switch {
	case w.Face != nil:
		s.FaceDetected = *w.Face
	default:
		s.FaceDetected = w.X != nil && w.Y != nil
	}
	if s.FaceDetected && (w.X == nil || w.Y == nil) {
		return Sample{}, fmt.Errorf("%w: face without coordinates", ErrBadSample)
	}
	if w.X != nil {
		s.X = *w.X
	}
	if w.Y != nil {
		s.Y = *w.Y
	}
	return s, nil
}

// Source produces samples until ctx is done.
type Source interface {
	Run(ctx context.Context, out chan Sample) error
}

// Offer puts s on out without blocking. When out is full the oldest queued
// sample is discarded. It reports whether a sample was dropped.
func Offer(out chan Sample, s Sample) (dropped bool) {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	for {
		select {
		case out <- s:
			return dropped
		default:
		}
		select {
		case <-out:
			dropped = true
		default:
		}
	}
}
