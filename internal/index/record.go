package index

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cdpedia/cdpindex/internal/models"
)

var errShortBuffer = errors.New("unexpected end of data")

// AppendString appends a uvarint length-prefixed string.
func AppendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// AppendBytes appends a uvarint length-prefixed byte slice.
func AppendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// AppendDocument appends the binary form of d shared by the file backends:
// record type byte, zigzag score, title, link.
func AppendDocument(dst []byte, d models.Document) []byte {
	dst = append(dst, byte(d.RecordType))
	dst = binary.AppendVarint(dst, d.Score)
	dst = AppendString(dst, d.Title)
	return AppendString(dst, d.Link)
}

// Decoder reads values written by the Append helpers. The first failure is
// sticky: later reads return zero values and Err reports it.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder returns a decoder over buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Err returns the first decoding error.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = fmt.Errorf("at offset %d: %w", d.off, err)
	}
}

// Byte reads one byte.
func (d *Decoder) Byte() byte {
	if d.err != nil {
		return 0
	}
	if d.off >= len(d.buf) {
		d.fail(errShortBuffer)
		return 0
	}
	b := d.buf[d.off]
	d.off++
	return b
}

// Uvarint reads an unsigned varint.
func (d *Decoder) Uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		d.fail(errors.New("invalid uvarint"))
		return 0
	}
	d.off += n
	return v
}

// Varint reads a signed varint.
func (d *Decoder) Varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf[d.off:])
	if n <= 0 {
		d.fail(errors.New("invalid varint"))
		return 0
	}
	d.off += n
	return v
}

// Bytes reads a length-prefixed byte slice. The result aliases the buffer.
func (d *Decoder) Bytes() []byte {
	n := d.Uvarint()
	if d.err != nil {
		return nil
	}
	if n > uint64(d.Remaining()) {
		d.fail(errShortBuffer)
		return nil
	}
	b := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return b
}

// String reads a length-prefixed string.
func (d *Decoder) String() string {
	return string(d.Bytes())
}

// Document reads a document written by AppendDocument.
func (d *Decoder) Document() models.Document {
	var doc models.Document
	doc.RecordType = models.RecordType(d.Byte())
	doc.Score = d.Varint()
	doc.Title = d.String()
	doc.Link = d.String()
	if d.err == nil && !doc.RecordType.Valid() {
		d.fail(fmt.Errorf("invalid record type %d", doc.RecordType))
	}
	return doc
}
