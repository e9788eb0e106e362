// Package docstore is a small document-table abstraction modelled on managed
// key-value/document stores: records are JSON-like documents keyed by "id",
// tables may declare secondary indexes, and listings page with an exclusive
// start key ("last evaluated key") instead of offsets.
//
// Two backends are provided: SQLite (embedded, the default) and MongoDB.
package docstore

import (
	"context"
	"errors"
	"regexp"
)

// KeyAttr is the primary key attribute of every document.
const KeyAttr = "id"

var (
	// ErrNotFound is returned by Get and Update when no document has the id.
	ErrNotFound = errors.New("docstore: item not found")
	// ErrTableNotFound is returned when a table (or index) has not been provisioned.
	ErrTableNotFound = errors.New("docstore: table not found")
	// ErrInvalidKey is returned when an exclusive start key does not match the
	// shape the table or index produces.
	ErrInvalidKey = errors.New("docstore: invalid start key")
)

// Item is a single stored document.
type Item map[string]any

// ID returns the primary key of the item, or "" if it has none.
func (it Item) ID() string {
	id, _ := it[KeyAttr].(string)
	return id
}

// Key identifies a position in a table or index scan. It always holds the
// primary key and, for index queries, the index attributes of the last item.
type Key map[string]any

// Index declares a secondary index. Queries match HashAttr by equality and
// are ordered by RangeAttr (when set) and then by primary key.
type Index struct {
	Name      string
	HashAttr  string
	RangeAttr string
}

// TableSpec describes a table to provision.
type TableSpec struct {
	Name    string
	Indexes []Index
}

// Index returns the named index.
func (s TableSpec) Index(name string) (Index, bool) {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// QueryInput selects items from a secondary index.
type QueryInput struct {
	Index string
	Value any
	// Descending reverses the index order (newest first for time ranges).
	Descending bool
	Limit      int
	StartKey   Key
}

// ScanInput reads a whole table in primary key order. Filter holds
// attribute equality conditions that must all match.
type ScanInput struct {
	Filter   map[string]any
	Limit    int
	StartKey Key
}

// Page is one slice of a query or scan. LastKey is non-nil only when more
// matching items exist beyond this page.
type Page struct {
	Items   []Item
	LastKey Key
}

// Table is a single logical collection of documents.
type Table interface {
	Name() string
	// Put writes the item unconditionally, replacing any existing document
	// with the same id.
	Put(ctx context.Context, item Item) error
	// Get returns ErrNotFound when the id is absent.
	Get(ctx context.Context, id string) (Item, error)
	// Update merges fields into the stored document and returns the result.
	// A nil field value removes the attribute. Returns ErrNotFound when the
	// id is absent.
	Update(ctx context.Context, id string, fields Item) (Item, error)
	// Delete removes the document. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, in QueryInput) (Page, error)
	Scan(ctx context.Context, in ScanInput) (Page, error)
}

// DB is a document store holding named tables.
type DB interface {
	// EnsureTable provisions the table and its indexes if missing.
	EnsureTable(ctx context.Context, spec TableSpec) error
	// Table returns a handle; operations fail with ErrTableNotFound until
	// the table has been provisioned.
	Table(spec TableSpec) Table
	Close() error
}

// ScanAll reads every item of a table matching filter, following LastKey
// until the scan is exhausted.
func ScanAll(ctx context.Context, t Table, filter map[string]any) ([]Item, error) {
	var (
		all   []Item
		start Key
	)
	for {
		page, err := t.Scan(ctx, ScanInput{Filter: filter, Limit: 100, StartKey: start})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.LastKey == nil {
			return all, nil
		}
		start = page.LastKey
	}
}

var attrPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// validAttr reports whether name can be used as a table, index or attribute
// name. Backends interpolate these into statements.
func validAttr(name string) bool {
	return attrPattern.MatchString(name)
}

func validateSpec(spec TableSpec) error {
	if !validAttr(spec.Name) {
		return errors.New("docstore: invalid table name " + spec.Name)
	}
	for _, idx := range spec.Indexes {
		if idx.Name == "" || !validAttr(idx.HashAttr) {
			return errors.New("docstore: invalid index on " + spec.Name)
		}
		if idx.RangeAttr != "" && !validAttr(idx.RangeAttr) {
			return errors.New("docstore: invalid range attribute on " + spec.Name)
		}
	}
	return nil
}

// startValue extracts a string attribute from a start key.
func startValue(k Key, attr string) (string, error) {
	v, ok := k[attr]
	if !ok {
		return "", ErrInvalidKey
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrInvalidKey
	}
	return s, nil
}

// keyFor builds the continuation key for item under the given index
// (or the table itself when idx is nil).
func keyFor(item Item, idx *Index) Key {
	k := Key{KeyAttr: item[KeyAttr]}
	if idx != nil {
		k[idx.HashAttr] = item[idx.HashAttr]
		if idx.RangeAttr != "" {
			k[idx.RangeAttr] = item[idx.RangeAttr]
		}
	}
	return k
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
