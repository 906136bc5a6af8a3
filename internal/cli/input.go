package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/cdpedia/cdpindex/internal/models"
	"github.com/cdpedia/cdpindex/internal/normalize"
)

// InputFormat is the format of build input.
type InputFormat string

const (
	// InputJSONL is one JSON document per line.
	InputJSONL InputFormat = "jsonl"
	// InputLines is one title per line; the link is the title itself.
	InputLines InputFormat = "lines"
)

// ParseInputFormat maps a flag value to an InputFormat.
func ParseInputFormat(s string) (InputFormat, error) {
	switch f := InputFormat(s); f {
	case InputJSONL, InputLines:
		return f, nil
	default:
		return "", fmt.Errorf("unknown input format %q; use jsonl or lines", s)
	}
}

// inputDocument is one line of jsonl build input.
type inputDocument struct {
	Title      string            `json:"title"`
	Link       string            `json:"link"`
	RecordType models.RecordType `json:"record_type"`
	Score      int64             `json:"score"`
}

// ReadEntries parses build input into builder entries, tokenizing each
// title. Blank lines are skipped. A malformed line ends the sequence with an
// error naming the line.
func ReadEntries(r io.Reader, format InputFormat) iter.Seq2[models.Entry, error] {
	return func(yield func(models.Entry, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			doc := inputDocument{Title: text, Link: text, RecordType: models.RecordOriginal}
			if format == InputJSONL {
				doc = inputDocument{RecordType: models.RecordOriginal}
				if err := json.Unmarshal([]byte(text), &doc); err != nil {
					yield(models.Entry{}, fmt.Errorf("line %d: %w", line, err))
					return
				}
				if doc.Title == "" {
					yield(models.Entry{}, fmt.Errorf("line %d: missing title", line))
					return
				}
			}
			entry := models.Entry{
				Tokens: normalize.Tokenize(doc.Title),
				Score:  doc.Score,
				Payload: models.Payload{
					RecordType: doc.RecordType,
					Title:      doc.Title,
					Link:       doc.Link,
				},
			}
			if !yield(entry, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(models.Entry{}, fmt.Errorf("read input: %w", err))
		}
	}
}
