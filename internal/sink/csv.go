package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// csvFile wraps an opened CSV file with its writer and cached headers.
type csvFile struct {
	file    *os.File
	writer  *csv.Writer
	headers []string
}

// CSVSink exports events into one CSV file per chain and event name. The
// first event seen for a file fixes its columns: every key of that event,
// sorted. Files left by a previous run are appended to.
type CSVSink struct {
	outputDir string
	mu        sync.Mutex
	files     map[string]*csvFile // keyed by "<chain>_<eventName>"
}

// NewCSVSink initialises a sink that writes CSV files under the given
// directory, creating the directory tree if it doesn't already exist.
func NewCSVSink(outputDir string) (*CSVSink, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create csv output directory: %w", err)
	}

	return &CSVSink{
		outputDir: outputDir,
		files:     make(map[string]*csvFile),
	}, nil
}

// Write appends the event as a CSV row.
func (s *CSVSink) Write(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, _ := evt[ColEventName].(string)
	if name == "" {
		name = "unknown"
	}
	chain, _ := evt[ColChain].(string)
	if chain == "" {
		chain = "unknown"
	}
	key := chain + "_" + name

	cf, ok := s.files[key]
	if !ok {
		var err error
		if cf, err = s.open(key, evt); err != nil {
			return err
		}
		s.files[key] = cf
	}

	row := make([]string, len(cf.headers))
	for i, col := range cf.headers {
		if v, ok := evt[col]; ok {
			row[i] = fmt.Sprint(v)
		}
	}

	if err := cf.writer.Write(row); err != nil {
		return err
	}
	cf.writer.Flush()
	return cf.writer.Error()
}

func (s *CSVSink) open(key string, evt Event) (*csvFile, error) {
	fp := filepath.Join(s.outputDir, fmt.Sprintf("%s.csv", key))

	headers := extractHeaders(evt)
	existing, err := readHeaders(fp)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		headers = existing
	}

	f, err := os.OpenFile(fp, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file %s: %w", fp, err)
	}
	w := csv.NewWriter(f)

	if existing == nil {
		if err := w.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write csv header for %s: %w", fp, err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to flush csv header for %s: %w", fp, err)
		}
	}
	return &csvFile{file: f, writer: w, headers: headers}, nil
}

// Close flushes and closes every open file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for key, cf := range s.files {
		cf.writer.Flush()
		if err := cf.writer.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := cf.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, key)
	}
	return firstErr
}

// readHeaders returns the header row of an existing file, or nil when the
// file does not exist or is empty.
func readHeaders(fp string) ([]string, error) {
	f, err := os.Open(fp)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	headers, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header of %s: %w", fp, err)
	}
	return headers, nil
}

// extractHeaders returns a deterministic, alphabetically-sorted slice of map
// keys which will be used as CSV columns.
func extractHeaders(evt Event) []string {
	headers := make([]string, 0, len(evt))
	for k := range evt {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return headers
}
