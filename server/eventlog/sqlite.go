package eventlog

import (
	"database/sql"
	"fmt"

	"github.com/san-kum/detection-lights/server/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS light_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	recorded_at TIMESTAMP NOT NULL,
	frame INTEGER NOT NULL,
	light_color TEXT NOT NULL,
	state TEXT NOT NULL,
	response_time_s DOUBLE NOT NULL,
	fps DOUBLE NOT NULL,
	runtime_s DOUBLE NOT NULL,
	detection_pct DOUBLE NOT NULL,
	objects TEXT,
	confidences TEXT,
	other_object_count INTEGER NOT NULL,
	other_confidence_avg_pct DOUBLE NOT NULL,
	note TEXT
);
CREATE INDEX IF NOT EXISTS idx_light_log_run ON light_log(run_id, recorded_at);
`

// SQLiteSink keeps every record of every run in one table so runs can be
// compared after the text logs have been truncated by a restart.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Write(rec *models.LogRecord) error {
	state := "OFF"
	if rec.On {
		state = "ON"
	}

	var note sql.NullString
	if rec.Note != "" {
		note = sql.NullString{String: rec.Note, Valid: true}
	}

	_, err := s.db.Exec(`INSERT INTO light_log (
		run_id, recorded_at, frame, light_color, state, response_time_s, fps,
		runtime_s, detection_pct, objects, confidences, other_object_count,
		other_confidence_avg_pct, note
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Timestamp.UTC(), int64(rec.Frame), rec.LightColor.String(), state,
		rec.ResponseTime.Seconds(), rec.FPS, rec.Runtime.Seconds(), rec.DetectionRatePct,
		FormatObjects(rec), FormatConfidences(rec), rec.OtherObjectCount,
		rec.OtherConfidenceAvgPct, note)
	return err
}

// CountRun returns the number of records stored for runID.
func (s *SQLiteSink) CountRun(runID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM light_log WHERE run_id = ?", runID).Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
