package models

import "time"

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	Current             LightState `json:"current"`
	LastChange          time.Time  `json:"last_change"`
	Start               time.Time  `json:"start"`
	TotalFrames         uint64     `json:"total_frames"`
	FramesWithDetection uint64     `json:"frames_with_detection"`
	LightsEnabled       bool       `json:"lights_enabled"`
	Pending             LightState `json:"pending"`
	Consecutive         int        `json:"consecutive"`
	DetectionStreak     int        `json:"detection_streak"`
	IdleStreak          int        `json:"idle_streak"`
}

// On reports whether a light is physically lit.
func (s Snapshot) On() bool {
	return s.Current != LightOff && s.LightsEnabled
}

type LogRecord struct {
	RunID                 string         `json:"run_id"`
	Timestamp             time.Time      `json:"timestamp"`
	Frame                 uint64         `json:"frame"`
	LightColor            LightState     `json:"light_color"`
	On                    bool           `json:"on"`
	ResponseTime          time.Duration  `json:"response_time"`
	TimeSinceLastChange   time.Duration  `json:"time_since_last_change"`
	FPS                   float64        `json:"fps"`
	Runtime               time.Duration  `json:"runtime"`
	DetectionRatePct      float64        `json:"detection_rate_pct"`
	Objects               map[string]int `json:"objects"`
	ObjectLabels          []string       `json:"-"`
	Confidences           []Detection    `json:"confidences"`
	OtherObjectCount      int            `json:"other_object_count"`
	OtherConfidenceAvgPct float64        `json:"other_object_confidence_avg_pct"`
	Note                  string         `json:"note,omitempty"`
}

const (
	NoteLightChanged   = "LIGHT CHANGED"
	NoteLightsDisabled = "LIGHTS DISABLED"
	NoteLightsEnabled  = "LIGHTS ENABLED"
)
