package dedup

// Entry is one distinct id and the subdocument first seen with it.
// HasDoc is false when the subdocument path matched nothing.
type Entry struct {
	ID     string
	Doc    interface{}
	HasDoc bool
}

// Table maps ids to entries and remembers first-seen order
type Table struct {
	entries []Entry
	index   map[string]int
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{
		entries: make([]Entry, 0),
		index:   make(map[string]int),
	}
}

// Len returns the number of distinct ids
func (t *Table) Len() int {
	return len(t.entries)
}

// Has reports whether id has a slot
func (t *Table) Has(id string) bool {
	_, ok := t.index[id]
	return ok
}

// Get returns the entry for id
func (t *Table) Get(id string) (Entry, bool) {
	i, ok := t.index[id]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Entries returns a copy of all entries in insertion order
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// IDs returns the ids in insertion order
func (t *Table) IDs() []string {
	ids := make([]string, len(t.entries))
	for i, e := range t.entries {
		ids[i] = e.ID
	}
	return ids
}

// Range calls fn for each entry in insertion order until fn returns false
func (t *Table) Range(fn func(Entry) bool) {
	for _, e := range t.entries {
		if !fn(e) {
			return
		}
	}
}

// insert adds e unless its id is already present. It reports whether e was added.
func (t *Table) insert(e Entry) bool {
	if _, ok := t.index[e.ID]; ok {
		return false
	}
	t.index[e.ID] = len(t.entries)
	t.entries = append(t.entries, e)
	return true
}
