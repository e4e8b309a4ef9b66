package eventlog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/detection-lights/server/models"
)

const timestampLayout = "2006-01-02T15:04:05.000000"

// Fields renders rec as the ordered column values written by the file sinks.
// Objects and confidences take one column each, followed by the optional note.
func Fields(rec *models.LogRecord) []string {
	state := "OFF"
	if rec.On {
		state = "ON"
	}

	fields := []string{
		rec.Timestamp.Format(timestampLayout),
		rec.LightColor.String(),
		state,
		seconds(rec.ResponseTime, 3),
		seconds(rec.TimeSinceLastChange, 3),
		strconv.FormatFloat(rec.FPS, 'f', 2, 64),
		seconds(rec.Runtime, 2),
		strconv.FormatFloat(rec.DetectionRatePct, 'f', 2, 64),
		FormatObjects(rec),
		FormatConfidences(rec),
		strconv.Itoa(rec.OtherObjectCount),
		strconv.FormatFloat(rec.OtherConfidenceAvgPct, 'f', 2, 64),
	}
	if rec.Note != "" {
		fields = append(fields, "Note: "+rec.Note)
	}
	return fields
}

// FormatObjects renders "label: n | label: n" in first-seen order.
func FormatObjects(rec *models.LogRecord) string {
	parts := make([]string, 0, len(rec.ObjectLabels))
	for _, label := range rec.ObjectLabels {
		parts = append(parts, fmt.Sprintf("%s: %d", label, rec.Objects[label]))
	}
	return strings.Join(parts, " | ")
}

// FormatConfidences renders "label:0.00;label:0.00" in detection order.
func FormatConfidences(rec *models.LogRecord) string {
	parts := make([]string, 0, len(rec.Confidences))
	for _, d := range rec.Confidences {
		parts = append(parts, fmt.Sprintf("%s:%.2f", d.Label, d.Confidence))
	}
	return strings.Join(parts, ";")
}

func seconds(d time.Duration, prec int) string {
	return strconv.FormatFloat(d.Seconds(), 'f', prec, 64)
}
