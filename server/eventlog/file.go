package eventlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/san-kum/detection-lights/server/models"
)

// CSVSink writes the tabular log. The file is truncated and the header
// rewritten when the sink opens.
type CSVSink struct {
	file   *os.File
	writer *csv.Writer
}

func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv log: %w", err)
	}

	s := &CSVSink{file: f, writer: csv.NewWriter(f)}
	if err := s.writeRow(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return s, nil
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Write(rec *models.LogRecord) error {
	return s.writeRow(Fields(rec))
}

func (s *CSVSink) writeRow(row []string) error {
	if err := s.writer.Write(row); err != nil {
		return err
	}
	s.writer.Flush()
	return s.writer.Error()
}

func (s *CSVSink) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// TextSink mirrors the log as comma-space joined lines.
type TextSink struct {
	file *os.File
}

func NewTextSink(path string) (*TextSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open text log: %w", err)
	}

	s := &TextSink{file: f}
	if err := s.writeLine(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write text header: %w", err)
	}
	return s, nil
}

func (s *TextSink) Name() string { return "text" }

func (s *TextSink) Write(rec *models.LogRecord) error {
	return s.writeLine(Fields(rec))
}

// writeLine issues a single write per record; the file is unbuffered so the
// line reaches the OS before Write returns.
func (s *TextSink) writeLine(fields []string) error {
	_, err := s.file.WriteString(strings.Join(fields, ", ") + "\n")
	return err
}

func (s *TextSink) Close() error {
	return s.file.Close()
}
