package triage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// LogEntry is one LLM call recorded by the backend.
type LogEntry struct {
	Timestamp    string          `json:"timestamp"`
	Model        string          `json:"model"`
	InputSnippet string          `json:"input_snippet"`
	Parsed       json.RawMessage `json:"parsed,omitempty"`
	RawResponse  json.RawMessage `json:"raw_response,omitempty"`
}

// InputPreview returns at most n characters of the input snippet.
func (e LogEntry) InputPreview(n int) string {
	runes := []rune(e.InputSnippet)
	if len(runes) <= n {
		return e.InputSnippet
	}
	return string(runes[:n])
}

// Output returns the parsed model output, or the raw response when nothing
// was parsed, as indented JSON. Entries with neither yield "{}".
func (e LogEntry) Output() string {
	raw := json.RawMessage("{}")
	switch {
	case present(e.Parsed):
		raw = e.Parsed
	case present(e.RawResponse):
		raw = e.RawResponse
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func present(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}

// FeedbackRow is one stored feedback record. Columns keeps the key order of
// the backend's JSON object.
type FeedbackRow struct {
	Columns []string
	Values  map[string]any
}

func (r *FeedbackRow) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("feedback row: expected object, got %v", tok)
	}

	r.Columns = nil
	r.Values = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("feedback row: unexpected key %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("feedback row %q: %w", key, err)
		}
		if _, seen := r.Values[key]; !seen {
			r.Columns = append(r.Columns, key)
		}
		r.Values[key] = v
	}
	_, err = dec.Token()
	return err
}

// Cell formats the value of a column for display. Missing and null values
// are empty.
func (r FeedbackRow) Cell(column string) string {
	switch v := r.Values[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// DownloadKind names a file the backend offers for download.
type DownloadKind string

const (
	DownloadLLMLogs          DownloadKind = "llm_logs.jsonl"
	DownloadFeedback         DownloadKind = "feedback.csv"
	DownloadProcessedTickets DownloadKind = "processed_tickets.csv"
)

// DownloadKinds lists every downloadable file in display order.
var DownloadKinds = []DownloadKind{DownloadLLMLogs, DownloadFeedback, DownloadProcessedTickets}

// ContentType is the media type the file is served with.
func (k DownloadKind) ContentType() string {
	if strings.HasSuffix(string(k), ".jsonl") {
		return "application/x-ndjson"
	}
	return "text/csv; charset=utf-8"
}

// ParseDownloadKind validates a download file name.
func ParseDownloadKind(name string) (DownloadKind, error) {
	kind := DownloadKind(name)
	if !lo.Contains(DownloadKinds, kind) {
		return "", fmt.Errorf("unknown download %q", name)
	}
	return kind, nil
}

// Gap is a ticket the backend found no knowledge-base article for.
type Gap struct {
	Timestamp string
	Excerpt   string
}
