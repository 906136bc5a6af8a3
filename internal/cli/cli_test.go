package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cdpedia/cdpindex/internal/index"
	"github.com/cdpedia/cdpindex/internal/models"
)

func TestReadEntries_JSONL(t *testing.T) {
	input := `{"title":"Ala Blanca","link":"wiki/Ala_Blanca","score":7}

{"title":"Alas","link":"wiki/Ala_Blanca","record_type":"redirect","score":2}
`
	entries, err := index.Collect(ReadEntries(strings.NewReader(input), InputJSONL))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	first := entries[0]
	if strings.Join(first.Tokens, " ") != "ala blanca" {
		t.Errorf("tokens = %v", first.Tokens)
	}
	if first.Score != 7 || first.Payload.RecordType != models.RecordOriginal || first.Payload.Link != "wiki/Ala_Blanca" {
		t.Errorf("first entry = %+v", first)
	}
	if entries[1].Payload.RecordType != models.RecordRedirect {
		t.Errorf("record type = %v, want redirect", entries[1].Payload.RecordType)
	}
}

func TestReadEntries_Lines(t *testing.T) {
	entries, err := index.Collect(ReadEntries(strings.NewReader("Ñandú común\n  \nBotero\n"), InputLines))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Payload.Title != "Ñandú común" || entries[0].Payload.Link != "Ñandú común" {
		t.Errorf("payload = %+v", entries[0].Payload)
	}
	if strings.Join(entries[0].Tokens, " ") != "nandu comun" {
		t.Errorf("tokens = %v", entries[0].Tokens)
	}
}

func TestReadEntries_Malformed(t *testing.T) {
	tests := []struct {
		name, input, want string
	}{
		{"bad json", "{\"title\":\"a\"}\n{\"title\":", "line 2"},
		{"missing title", `{"link":"x"}`, "missing title"},
		{"bad record type", `{"title":"a","record_type":"alias"}`, "unknown record type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := index.Collect(ReadEntries(strings.NewReader(tt.input), InputJSONL))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseFormats(t *testing.T) {
	if f, err := ParseOutputFormat(""); err != nil || f != OutputText {
		t.Errorf("ParseOutputFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseOutputFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
	if f, err := ParseInputFormat("lines"); err != nil || f != InputLines {
		t.Errorf("ParseInputFormat(lines) = %v, %v", f, err)
	}
	if _, err := ParseInputFormat("csv"); err == nil {
		t.Error("expected error for csv")
	}
}

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:   "ala",
		Terms:   []string{"ala"},
		Partial: true,
		Total:   2,
		Results: []models.Document{
			{RecordType: models.RecordOriginal, Title: "Ala blanca", Link: "wiki/Ala_blanca", Score: 3},
			{RecordType: models.RecordRedirect, Title: "Alas", Link: "wiki/Ala_blanca", Score: 1},
		},
		QueryTime: 4,
	}
}

func TestWriteSearchResults(t *testing.T) {
	resp := sampleResponse()

	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, resp, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.SearchResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Total != 2 || len(decoded.Results) != 2 || decoded.Results[1].RecordType != models.RecordRedirect {
		t.Errorf("decoded = %+v", decoded)
	}

	buf.Reset()
	if err := WriteSearchResults(&buf, resp, OutputCompact); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "Ala blanca\twiki/Ala_blanca\nAlas\twiki/Ala_blanca\n" {
		t.Errorf("compact output = %q", got)
	}

	buf.Reset()
	if err := WriteSearchResults(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Found 2 partial matches", "→ Alas", "wiki/Ala_blanca"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteDocumentAndStats(t *testing.T) {
	var buf bytes.Buffer
	doc := sampleResponse().Results[0]
	if err := WriteDocument(&buf, doc, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "record_type:  original") {
		t.Errorf("document output = %q", buf.String())
	}

	buf.Reset()
	stats := &models.IndexStats{Backend: "memory", Path: "/tmp/x/index.mem", Documents: 3, DiskUsageBytes: 99}
	if err := WriteStats(&buf, stats, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "documents:         3") {
		t.Errorf("stats output = %q", buf.String())
	}
}
