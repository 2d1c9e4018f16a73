package store

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/fableforge/fable/internal/generations"
	"github.com/fableforge/fable/internal/jobs"
)

// docStr reads a string field from a document.
func docStr(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

// docInt reads an integer field. GraphQL numbers decode as float64.
func docInt(doc map[string]any, key string) int {
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// docFloat reads a float field from a document.
func docFloat(doc map[string]any, key string) float64 {
	switch v := doc[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// docTime reads an RFC3339 timestamp field. Zero time on absence or
// parse failure.
func docTime(doc map[string]any, key string) time.Time {
	s := docStr(doc, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// timeStr formats a timestamp for storage. Empty string for zero time
// so absent and unset are indistinguishable.
func timeStr(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// gqlStr quotes a string for inline GraphQL query text. JSON encoding
// produces only escapes GraphQL accepts.
func gqlStr(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// gqlFloat formats a float for inline GraphQL query text.
func gqlFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// marshalEvents encodes an event log for document storage.
func marshalEvents(events []jobs.Event) string {
	if len(events) == 0 {
		return ""
	}
	b, err := json.Marshal(events)
	if err != nil {
		return ""
	}
	return string(b)
}

// unmarshalEvents decodes a stored event log.
func unmarshalEvents(s string) []jobs.Event {
	if s == "" {
		return nil
	}
	var events []jobs.Event
	if err := json.Unmarshal([]byte(s), &events); err != nil {
		return nil
	}
	return events
}

// marshalRanking encodes ranking metadata for document storage.
func marshalRanking(r *generations.Ranking) string {
	if r == nil {
		return ""
	}
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}

// unmarshalRanking decodes stored ranking metadata.
func unmarshalRanking(s string) *generations.Ranking {
	if s == "" {
		return nil
	}
	var r generations.Ranking
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil
	}
	return &r
}

// marshalMap encodes provider input parameters for document storage.
func marshalMap(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

// unmarshalMap decodes stored provider input parameters.
func unmarshalMap(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
