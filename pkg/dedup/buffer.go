// Package dedup keeps one subdocument per entity id, first occurrence wins.
package dedup

import (
	"encoding/json"
	"strconv"

	"github.com/athapong/entity-sieve/pkg/jsonpath"
)

// Outcome describes what Ingest did with a document
type Outcome int

const (
	// Stored means the document introduced a new id
	Stored Outcome = iota
	// Duplicate means the id was already in the table
	Duplicate
	// NoID means the id path selected nothing usable
	NoID
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Duplicate:
		return "duplicate"
	case NoID:
		return "no_id"
	default:
		return "unknown"
	}
}

// Buffer extracts (id, subdocument) pairs from documents into a Table.
// It has a single writer and performs no I/O.
type Buffer struct {
	idPath  *jsonpath.Path
	docPath *jsonpath.Path
	table   *Table
}

// NewBuffer creates a Buffer. docPath may be nil, in which case every slot
// is stored without a subdocument.
func NewBuffer(idPath, docPath *jsonpath.Path) *Buffer {
	return &Buffer{
		idPath:  idPath,
		docPath: docPath,
		table:   NewTable(),
	}
}

// Ingest records doc under the first id the id path selects. Documents
// whose id is already known are dropped without looking at their payload.
func (b *Buffer) Ingest(doc interface{}) Outcome {
	ids := b.idPath.Extract(doc)
	if len(ids) == 0 {
		return NoID
	}
	id, ok := IDString(ids[0])
	if !ok {
		return NoID
	}
	if b.table.Has(id) {
		return Duplicate
	}

	entry := Entry{ID: id}
	if b.docPath != nil {
		if docs := b.docPath.Extract(doc); len(docs) > 0 {
			entry.Doc = docs[0]
			entry.HasDoc = true
		}
	}
	b.table.insert(entry)
	return Stored
}

// Table returns the table being filled
func (b *Buffer) Table() *Table {
	return b.table
}

// IDString converts an extracted scalar to its id form. Strings are used
// as-is, numbers keep their literal text. Empty strings, null, objects and
// arrays are not ids.
func IDString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
