package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// DecodeError records a single malformed NDJSON line. Malformed lines are
// skipped, not fatal, so a corrupt record cannot sink a whole batch.
type DecodeError struct {
	Line int
	Err  error
}

// Error implements the error interface for DecodeError.
func (e DecodeError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Err)
}

// ReadNDJSON decodes newline-delimited JSON records from r. Blank lines are
// ignored; undecodable lines are reported in the returned DecodeError slice.
func ReadNDJSON[T any](r io.Reader) ([]T, []DecodeError, error) {
	var (
		records  []T
		failures []DecodeError
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			failures = append(failures, DecodeError{Line: lineNo, Err: err})
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, failures, fmt.Errorf("reading ndjson: %w", err)
	}
	return records, failures, nil
}

// WriteNDJSON encodes records to w, one JSON object per line.
func WriteNDJSON[T any](w io.Writer, records []T) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding record %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// ReadNDJSONFile reads NDJSON records from the file at path.
func ReadNDJSONFile[T any](path string) ([]T, []DecodeError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadNDJSON[T](f)
}

// WriteNDJSONFile writes NDJSON records to the file at path, replacing any
// existing content.
func WriteNDJSONFile[T any](path string, records []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteNDJSON(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
