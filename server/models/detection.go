package models

import (
	"errors"
	"time"
)

// ErrMalformedEvent marks a frame that arrived without decodable caps.
var ErrMalformedEvent = errors.New("detection event has no usable caps")

type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// FrameCaps describes the negotiated video caps of the frame the detections
// were produced from. Frames without usable caps are dropped.
type FrameCaps struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type DetectionEvent struct {
	Frame      uint64      `json:"frame"`
	Timestamp  time.Time   `json:"timestamp"`
	Caps       *FrameCaps  `json:"caps"`
	Detections []Detection `json:"detections"`
}

// Valid reports whether the event carries decodable caps.
func (e *DetectionEvent) Valid() bool {
	return e.Caps != nil && e.Caps.Format != "" && e.Caps.Width > 0 && e.Caps.Height > 0
}

// Counts returns a fresh label -> count mapping for the event.
func (e *DetectionEvent) Counts() map[string]int {
	counts := make(map[string]int, len(e.Detections))
	for _, d := range e.Detections {
		counts[d.Label]++
	}
	return counts
}

// FrameTally is the per-frame view used for control and logging. A new tally
// is built for every frame; nothing in it survives to the next one.
type FrameTally struct {
	Frame            uint64
	Objects          map[string]int
	Labels           []string
	Confidences      []Detection
	TargetCount      int
	OtherCount       int
	OtherConfidences []float64
}

// OtherConfidenceAvgPct is the mean confidence of non-target detections as a
// percentage, zero when there were none.
func (t FrameTally) OtherConfidenceAvgPct() float64 {
	if len(t.OtherConfidences) == 0 {
		return 0
	}
	var sum float64
	for _, c := range t.OtherConfidences {
		sum += c
	}
	return sum / float64(len(t.OtherConfidences)) * 100
}

// Tally builds the per-frame view for target. Only target detections with a
// confidence strictly above minConfidence are counted towards TargetCount.
func Tally(ev *DetectionEvent, target string, minConfidence float64) FrameTally {
	t := FrameTally{
		Frame:       ev.Frame,
		Objects:     make(map[string]int),
		Confidences: make([]Detection, 0, len(ev.Detections)),
	}

	for _, d := range ev.Detections {
		if _, seen := t.Objects[d.Label]; !seen {
			t.Labels = append(t.Labels, d.Label)
		}
		t.Objects[d.Label]++
		t.Confidences = append(t.Confidences, d)

		switch {
		case d.Label == target && d.Confidence > minConfidence:
			t.TargetCount++
		case d.Label != target:
			t.OtherCount++
			t.OtherConfidences = append(t.OtherConfidences, d.Confidence)
		}
	}

	return t
}
