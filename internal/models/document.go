// Package models defines core data structures for indexed documents, builder entries, and queries.
package models

import "fmt"

// RecordType distinguishes original articles from other kinds of records.
type RecordType uint8

const (
	// RecordOriginal is an article with its own page.
	RecordOriginal RecordType = 1
	// RecordRedirect is a title that points at another article.
	RecordRedirect RecordType = 2
)

// String returns the text form used in JSON and YAML.
func (t RecordType) String() string {
	switch t {
	case RecordOriginal:
		return "original"
	case RecordRedirect:
		return "redirect"
	default:
		return fmt.Sprintf("record_type(%d)", uint8(t))
	}
}

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	return t == RecordOriginal || t == RecordRedirect
}

// MarshalText implements encoding.TextMarshaler.
func (t RecordType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid record type: %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *RecordType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "original", "":
		*t = RecordOriginal
	case "redirect":
		*t = RecordRedirect
	default:
		return fmt.Errorf("unknown record type: %q", string(b))
	}
	return nil
}

// Document is one immutable indexed record. Two documents are equal iff all fields are equal.
type Document struct {
	RecordType RecordType `json:"record_type"`
	Title      string     `json:"title"`
	Link       string     `json:"link"`
	Score      int64      `json:"score"`
}

// Payload carries what the builder needs to reconstruct a Document besides its score.
type Payload struct {
	RecordType RecordType
	Title      string
	Link       string
}

// Entry is one builder input: pre-tokenized words, the opaque score, and the payload.
type Entry struct {
	Tokens  []string
	Score   int64
	Payload Payload
}

// Document returns the record this entry will be stored as.
func (e Entry) Document() Document {
	return Document{
		RecordType: e.Payload.RecordType,
		Title:      e.Payload.Title,
		Link:       e.Payload.Link,
		Score:      e.Score,
	}
}
