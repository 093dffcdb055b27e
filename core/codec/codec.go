// Package codec converts collection contents to and from the supported export formats.
package codec

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/asaidimu/go-collections/core/schema"
	"github.com/goccy/go-json"
)

// Format names an export/import encoding.
type Format string

// Supported formats.
const (
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
)

// ErrUnsupportedFormat is returned for unknown formats and for importing CSV.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Entry is one exported record. Metadata is kept raw so callers decide how to read it.
type Entry struct {
	ID       string          `json:"id,omitempty"`
	Data     schema.Document `json:"data"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Encode renders entries in format. JSON output is an indented array, NDJSON one
// entry per line and CSV a table with an id column followed by the data fields of
// the first entry in sorted order.
func Encode(format Format, entries []Entry) ([]byte, error) {
	switch format {
	case FormatJSON:
		if entries == nil {
			entries = []Entry{}
		}
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode json export: %w", err)
		}
		return out, nil
	case FormatNDJSON:
		var buf bytes.Buffer
		for i, entry := range entries {
			line, err := json.Marshal(entry)
			if err != nil {
				return nil, fmt.Errorf("failed to encode ndjson record %d: %w", i, err)
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	case FormatCSV:
		return encodeCSV(entries)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func encodeCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	if len(entries) == 0 {
		return buf.Bytes(), nil
	}

	columns := make([]string, 0, len(entries[0].Data))
	for key := range entries[0].Data {
		columns = append(columns, key)
	}
	sort.Strings(columns)

	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{"id"}, columns...)); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	row := make([]string, len(columns)+1)
	for _, entry := range entries {
		row[0] = entry.ID
		for i, column := range columns {
			cell, err := csvCell(entry.Data[column])
			if err != nil {
				return nil, fmt.Errorf("failed to encode csv cell %s of %s: %w", column, entry.ID, err)
			}
			row[i+1] = cell
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func csvCell(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v), nil
	}
	out, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Decode parses an import payload. Each record is either a full exported entry
// (an object with "data" and an "id" or "metadata" key) or a bare data object.
// CSV cannot be imported.
func Decode(format Format, data []byte) ([]Entry, error) {
	switch format {
	case FormatJSON:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 {
			return nil, nil
		}
		if trimmed[0] == '{' {
			entry, err := decodeRecord(trimmed)
			if err != nil {
				return nil, fmt.Errorf("record 0: %w", err)
			}
			return []Entry{entry}, nil
		}
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("failed to decode json import: %w", err)
		}
		out := make([]Entry, 0, len(raws))
		for i, raw := range raws {
			entry, err := decodeRecord(raw)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			out = append(out, entry)
		}
		return out, nil
	case FormatNDJSON:
		var out []Entry
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := bytes.TrimSpace(scanner.Bytes())
			if len(text) == 0 {
				continue
			}
			entry, err := decodeRecord(text)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			out = append(out, entry)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read ndjson import: %w", err)
		}
		return out, nil
	case FormatCSV:
		return nil, fmt.Errorf("%w: csv import is not supported", ErrUnsupportedFormat)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func decodeRecord(raw []byte) (Entry, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Entry{}, fmt.Errorf("record must be an object: %w", err)
	}

	dataRaw, hasData := fields["data"]
	_, hasID := fields["id"]
	metaRaw, hasMeta := fields["metadata"]
	if hasData && (hasID || hasMeta) {
		var entry Entry
		if err := json.Unmarshal(dataRaw, &entry.Data); err == nil && entry.Data != nil {
			if hasID {
				_ = json.Unmarshal(fields["id"], &entry.ID)
			}
			if hasMeta {
				entry.Metadata = metaRaw
			}
			return entry, nil
		}
	}

	var doc schema.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Entry{}, err
	}
	return Entry{Data: doc}, nil
}
