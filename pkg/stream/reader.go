// Package stream reads the elements of a top-level JSON array one at a time.
package stream

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrNotArray is returned when the top-level value is not an array
	ErrNotArray = errors.New("input is not a JSON array")
	// ErrMalformed is returned when the input is not well-formed JSON
	ErrMalformed = errors.New("malformed JSON input")
	// ErrTrailingData is returned when non-whitespace follows the closing bracket
	ErrTrailingData = errors.New("unexpected data after JSON array")
)

// Reader yields the elements of a JSON array read from an io.Reader. Only
// the element being decoded is held in memory. Numbers are decoded as
// json.Number so identifiers keep their literal text.
type Reader struct {
	dec     *json.Decoder
	started bool
	count   int
	err     error
}

// NewReader creates a Reader over r
func NewReader(r io.Reader) *Reader {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &Reader{dec: dec}
}

// Count returns the number of elements returned so far
func (r *Reader) Count() int {
	return r.count
}

// Next returns the next array element. It returns io.EOF after the closing
// bracket, and also for an input with no JSON value at all. Any other error
// is final and is returned again on later calls.
func (r *Reader) Next() (interface{}, error) {
	if r.err != nil {
		return nil, r.err
	}

	if !r.started {
		tok, err := r.dec.Token()
		if err == io.EOF {
			return nil, r.fail(io.EOF)
		}
		if err != nil {
			return nil, r.fail(errors.Wrap(ErrMalformed, err.Error()))
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return nil, r.fail(errors.Wrapf(ErrNotArray, "top-level value starts with %v", tok))
		}
		r.started = true
	}

	if r.dec.More() {
		var v interface{}
		if err := r.dec.Decode(&v); err != nil {
			return nil, r.fail(errors.Wrapf(ErrMalformed, "element %d: %v", r.count, err))
		}
		r.count++
		return v, nil
	}

	// More reports false both at ']' and on a read error, so the closing
	// bracket must be consumed explicitly; a truncated array ends in io.EOF here.
	tok, err := r.dec.Token()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, r.fail(errors.Wrapf(ErrMalformed, "after element %d: %v", r.count, err))
	}
	if delim, ok := tok.(json.Delim); !ok || delim != ']' {
		return nil, r.fail(errors.Wrapf(ErrMalformed, "after element %d: unexpected %v", r.count, tok))
	}

	switch _, err := r.dec.Token(); {
	case err == io.EOF:
		return nil, r.fail(io.EOF)
	case err != nil:
		return nil, r.fail(errors.Wrap(ErrTrailingData, err.Error()))
	default:
		return nil, r.fail(ErrTrailingData)
	}
}

func (r *Reader) fail(err error) error {
	r.err = err
	return err
}
