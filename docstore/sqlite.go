package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLite stores each table as a two-column SQLite table (id, JSON document).
// Secondary indexes are expression indexes over json_extract.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path, ensuring the parent
// directory exists.
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets readers proceed during a write; busy_timeout makes writers
	// wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
		PRAGMA cache_size=-8000;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// EnsureTable creates the table and its expression indexes.
func (s *SQLite) EnsureTable(ctx context.Context, spec TableSpec) error {
	if err := validateSpec(spec); err != nil {
		return err
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id TEXT PRIMARY KEY, doc TEXT NOT NULL)`, spec.Name),
	}
	for _, idx := range spec.Indexes {
		cols := []string{jsonExpr(idx.HashAttr)}
		if idx.RangeAttr != "" {
			cols = append(cols, jsonExpr(idx.RangeAttr))
		}
		cols = append(cols, "id")
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (%s)`,
			sqlIndexName(spec.Name, idx.Name), spec.Name, strings.Join(cols, ", ")))
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("docstore: provision %s: %w", spec.Name, err)
		}
	}
	return nil
}

// Table returns a handle to the named table.
func (s *SQLite) Table(spec TableSpec) Table {
	return &sqliteTable{db: s.db, spec: spec}
}

type sqliteTable struct {
	db   *sql.DB
	spec TableSpec
}

func (t *sqliteTable) Name() string { return t.spec.Name }

func (t *sqliteTable) Put(ctx context.Context, item Item) error {
	id := item.ID()
	if id == "" {
		return errors.New("docstore: item has no id")
	}
	doc, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("docstore: encode item: %w", err)
	}
	_, err = t.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR REPLACE INTO %q (id, doc) VALUES (?, ?)`, t.spec.Name), id, string(doc))
	return t.wrap(err)
}

func (t *sqliteTable) Get(ctx context.Context, id string) (Item, error) {
	var doc string
	err := t.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT doc FROM %q WHERE id = ?`, t.spec.Name), id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, t.wrap(err)
	}
	return decodeDoc(doc)
}

func (t *sqliteTable) Update(ctx context.Context, id string, fields Item) (Item, error) {
	patch := make(Item, len(fields))
	for k, v := range fields {
		if k == KeyAttr {
			continue
		}
		patch[k] = v
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode update: %w", err)
	}
	// json_patch follows RFC 7396: null members remove the attribute.
	var doc string
	err = t.db.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE %q SET doc = json_patch(doc, ?) WHERE id = ? RETURNING doc`, t.spec.Name),
		string(body), id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, t.wrap(err)
	}
	return decodeDoc(doc)
}

func (t *sqliteTable) Delete(ctx context.Context, id string) error {
	_, err := t.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, t.spec.Name), id)
	return t.wrap(err)
}

func (t *sqliteTable) Query(ctx context.Context, in QueryInput) (Page, error) {
	idx, ok := t.spec.Index(in.Index)
	if !ok {
		return Page{}, fmt.Errorf("%w: index %s on %s", ErrTableNotFound, in.Index, t.spec.Name)
	}
	limit := normalizeLimit(in.Limit)
	cmp, dir := ">", "ASC"
	if in.Descending {
		cmp, dir = "<", "DESC"
	}

	where := []string{jsonExpr(idx.HashAttr) + " = ?"}
	args := []any{in.Value}
	order := []string{}
	if idx.RangeAttr != "" {
		order = append(order, jsonExpr(idx.RangeAttr)+" "+dir)
	}
	order = append(order, "id "+dir)

	if in.StartKey != nil {
		id, err := startValue(in.StartKey, KeyAttr)
		if err != nil {
			return Page{}, err
		}
		if idx.RangeAttr != "" {
			rv, err := startValue(in.StartKey, idx.RangeAttr)
			if err != nil {
				return Page{}, err
			}
			where = append(where, fmt.Sprintf("(%s, id) %s (?, ?)", jsonExpr(idx.RangeAttr), cmp))
			args = append(args, rv, id)
		} else {
			where = append(where, "id "+cmp+" ?")
			args = append(args, id)
		}
	}
	args = append(args, limit+1)

	q := fmt.Sprintf(`SELECT doc FROM %q WHERE %s ORDER BY %s LIMIT ?`,
		t.spec.Name, strings.Join(where, " AND "), strings.Join(order, ", "))
	items, err := t.query(ctx, q, args...)
	if err != nil {
		return Page{}, err
	}
	return paginate(items, limit, &idx), nil
}

func (t *sqliteTable) Scan(ctx context.Context, in ScanInput) (Page, error) {
	limit := normalizeLimit(in.Limit)
	where := []string{"1 = 1"}
	var args []any
	if in.StartKey != nil {
		id, err := startValue(in.StartKey, KeyAttr)
		if err != nil {
			return Page{}, err
		}
		where = append(where, "id > ?")
		args = append(args, id)
	}
	attrs := make([]string, 0, len(in.Filter))
	for attr := range in.Filter {
		if !validAttr(attr) {
			return Page{}, fmt.Errorf("docstore: invalid filter attribute %q", attr)
		}
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)
	for _, attr := range attrs {
		where = append(where, jsonExpr(attr)+" = ?")
		args = append(args, in.Filter[attr])
	}
	args = append(args, limit+1)

	q := fmt.Sprintf(`SELECT doc FROM %q WHERE %s ORDER BY id LIMIT ?`, t.spec.Name, strings.Join(where, " AND "))
	items, err := t.query(ctx, q, args...)
	if err != nil {
		return Page{}, err
	}
	return paginate(items, limit, nil), nil
}

func (t *sqliteTable) query(ctx context.Context, q string, args ...any) ([]Item, error) {
	rows, err := t.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, t.wrap(err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		item, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, t.wrap(err)
	}
	return items, nil
}

func (t *sqliteTable) wrap(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %s", ErrTableNotFound, t.spec.Name)
	}
	return err
}

func decodeDoc(doc string) (Item, error) {
	var item Item
	if err := json.Unmarshal([]byte(doc), &item); err != nil {
		return nil, fmt.Errorf("docstore: decode item: %w", err)
	}
	return item, nil
}

// jsonExpr must render identically in CREATE INDEX and in queries so the
// planner can use the expression index.
func jsonExpr(attr string) string {
	return "json_extract(doc, '$." + attr + "')"
}

func sqlIndexName(table, index string) string {
	var b strings.Builder
	b.WriteString(table)
	b.WriteString("__")
	for _, r := range index {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// paginate trims a limit+1 result to limit items and records the
// continuation key when the extra item proved more data exists.
func paginate(items []Item, limit int, idx *Index) Page {
	if len(items) <= limit {
		return Page{Items: items}
	}
	items = items[:limit]
	return Page{Items: items, LastKey: keyFor(items[len(items)-1], idx)}
}
