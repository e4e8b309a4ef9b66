// Package eventlog keeps the audit trail of every processed frame and every
// light decision. Records are derived from the controller snapshot at append
// time and written synchronously to each sink.
package eventlog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/detection-lights/server/metrics"
	"github.com/san-kum/detection-lights/server/models"
	"go.uber.org/zap"
)

// Header is the column contract shared by the CSV and text logs.
var Header = []string{
	"Timestamp",
	"Light Color",
	"State",
	"Response Time (s)",
	"Time Since Last Change (s)",
	"FPS",
	"Runtime (s)",
	"Detection %",
	"Confidences",
	"Other Object Counter",
	"Other Object Confidence % Average",
}

// Sink receives every record. Write must flush before returning.
type Sink interface {
	Name() string
	Write(rec *models.LogRecord) error
	Close() error
}

type Entry struct {
	State models.Snapshot
	Frame models.FrameTally
	Note  string
}

type EventLog struct {
	mu     sync.Mutex
	runID  string
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time
	count  int64
	notes  map[string]int64
}

func New(runID string, logger *zap.Logger, sinks ...Sink) *EventLog {
	return &EventLog{
		runID:  runID,
		sinks:  sinks,
		logger: logger,
		now:    time.Now,
		notes:  make(map[string]int64),
	}
}

// AddSink attaches a sink after construction, e.g. the live websocket feed.
func (l *EventLog) AddSink(s Sink) {
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

// Append derives a record from e and writes it to every sink. A failing sink
// never stops the others; the joined error is returned after being reported.
func (l *EventLog) Append(e Entry) (*models.LogRecord, error) {
	rec := l.build(e)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if rec.Note != "" {
		l.notes[rec.Note]++
	}

	l.logger.Debug("Frame record",
		zap.Uint64("frame", rec.Frame),
		zap.Stringer("light", rec.LightColor),
		zap.Bool("on", rec.On),
		zap.Float64("fps", rec.FPS),
		zap.Float64("detection_pct", rec.DetectionRatePct),
		zap.String("objects", FormatObjects(rec)),
		zap.String("note", rec.Note))

	var errs []error
	for _, s := range l.sinks {
		if err := s.Write(rec); err != nil {
			metrics.LogWriteErrors.WithLabelValues(s.Name()).Inc()
			l.logger.Error("Logging failed", zap.String("sink", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return rec, errors.Join(errs...)
}

func (l *EventLog) build(e Entry) *models.LogRecord {
	now := l.now()
	s := e.State

	sinceChange := now.Sub(s.LastChange)
	runtime := now.Sub(s.Start)

	var fps float64
	if runtime > 0 {
		fps = float64(s.TotalFrames) / runtime.Seconds()
	}
	var detectionRate float64
	if s.TotalFrames > 0 {
		detectionRate = float64(s.FramesWithDetection) / float64(s.TotalFrames) * 100
	}

	return &models.LogRecord{
		RunID:                 l.runID,
		Timestamp:             now,
		Frame:                 e.Frame.Frame,
		LightColor:            s.Current,
		On:                    s.On(),
		ResponseTime:          sinceChange,
		TimeSinceLastChange:   sinceChange,
		FPS:                   fps,
		Runtime:               runtime,
		DetectionRatePct:      detectionRate,
		Objects:               e.Frame.Objects,
		ObjectLabels:          e.Frame.Labels,
		Confidences:           e.Frame.Confidences,
		OtherObjectCount:      e.Frame.OtherCount,
		OtherConfidenceAvgPct: e.Frame.OtherConfidenceAvgPct(),
		Note:                  e.Note,
	}
}

// Count returns the number of records appended so far.
func (l *EventLog) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// NoteCount returns how many records carried note.
func (l *EventLog) NoteCount(note string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notes[note]
}

func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
