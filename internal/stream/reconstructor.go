// Package stream reassembles the objects of a streamed JSON array whose
// chunk boundaries are arbitrary.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/bnema/gemini-pool/internal/observability"
	log "github.com/sirupsen/logrus"
)

const readChunkSize = 32 * 1024

// Reconstructor extracts complete top-level objects from a JSON array
// delivered in fragments. Scan state survives between calls, so feeding
// one byte at a time costs the same as feeding the whole array.
//
// A Reconstructor serves a single stream and is not safe for concurrent
// use.
type Reconstructor struct {
	buf []byte

	// scanned counts bytes of the pending object already examined.
	scanned     int
	depth       int
	inString    bool
	backslashes int
}

func NewReconstructor() *Reconstructor {
	return &Reconstructor{}
}

// Parse appends chunk to the buffer and returns every object completed by
// it, in arrival order. Objects that are not valid JSON are logged and
// dropped.
func (r *Reconstructor) Parse(chunk []byte) []json.RawMessage {
	r.buf = append(r.buf, chunk...)

	var objects []json.RawMessage
	for {
		if r.scanned == 0 {
			r.buf = trimSeparators(r.buf)
			if len(r.buf) == 0 || r.buf[0] != '{' {
				break
			}
		}

		end := r.scan()
		if end < 0 {
			break
		}

		object := r.buf[:end+1]
		if json.Valid(object) {
			objects = append(objects, append(json.RawMessage(nil), object...))
			observability.StreamObjectsTotal.WithLabelValues("parsed").Inc()
		} else {
			observability.StreamObjectsTotal.WithLabelValues("malformed").Inc()
			log.WithField("object", preview(object)).Warn("dropping malformed object from stream")
		}

		r.buf = r.buf[end+1:]
		r.resetScan()
	}

	if len(r.buf) == 0 {
		r.buf = nil
	}
	return objects
}

// Reset discards buffered data and scan state.
func (r *Reconstructor) Reset() {
	r.buf = nil
	r.resetScan()
}

// Buffered reports how many bytes are held waiting for more data.
func (r *Reconstructor) Buffered() int {
	return len(r.buf)
}

// Each reads src until EOF and calls fn for every reconstructed object.
// It stops early when ctx is done or fn returns an error.
func (r *Reconstructor) Each(ctx context.Context, src io.Reader, fn func(json.RawMessage) error) error {
	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(chunk)
		if n > 0 {
			for _, object := range r.Parse(chunk[:n]) {
				if err := fn(object); err != nil {
					return err
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return readErr
		}
	}
}

// scan advances through the pending object and returns the index of its
// closing brace, or -1 when the object is still incomplete.
func (r *Reconstructor) scan() int {
	for i := r.scanned; i < len(r.buf); i++ {
		c := r.buf[i]

		if r.inString {
			if c == '"' && r.backslashes%2 == 0 {
				r.inString = false
			}
			if c == '\\' {
				r.backslashes++
			} else {
				r.backslashes = 0
			}
			continue
		}

		switch c {
		case '"':
			r.inString = true
			r.backslashes = 0
		case '{':
			r.depth++
		case '}':
			r.depth--
			if r.depth == 0 {
				return i
			}
		}
	}

	r.scanned = len(r.buf)
	return -1
}

func (r *Reconstructor) resetScan() {
	r.scanned = 0
	r.depth = 0
	r.inString = false
	r.backslashes = 0
}

// trimSeparators drops the whitespace, commas and array-open brackets
// that sit between objects.
func trimSeparators(buf []byte) []byte {
	i := 0
	for i < len(buf) {
		switch buf[i] {
		case ' ', '\t', '\r', '\n', ',', '[':
			i++
		default:
			return buf[i:]
		}
	}
	return buf[i:]
}

func preview(object []byte) string {
	const limit = 256
	if len(object) <= limit {
		return string(object)
	}
	return string(object[:limit]) + "..."
}
