package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps tables in process memory. When dataFile is set every
// write is saved to it as JSON and the file is loaded on start.
type MemoryStore struct {
	mu       sync.Mutex
	tables   map[string][]Record
	dataFile string
}

func NewMemoryStore(dataFile string) (*MemoryStore, error) {
	st := &MemoryStore{
		tables:   make(map[string][]Record),
		dataFile: dataFile,
	}
	if dataFile == "" {
		return st, nil
	}
	if err := st.loadFromFile(); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *MemoryStore) loadFromFile() error {
	data, err := os.ReadFile(st.dataFile)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var tables map[string][]Record
	if err := json.Unmarshal(data, &tables); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if tables != nil {
		st.tables = tables
	}
	return nil
}

func (st *MemoryStore) saveToFile(tables map[string][]Record) error {
	if st.dataFile == "" {
		return nil
	}
	file, err := os.Create(st.dataFile)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tables); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

func (st *MemoryStore) Query(ctx context.Context, table string, f Filter) ([]Record, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return memTables(st.tables).query(table, f)
}

func (st *MemoryStore) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out Record
	err := st.write(table, func(work memTables) error {
		var err error
		out, err = work.insert(table, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (st *MemoryStore) Update(ctx context.Context, table, id string, patch Record, guard Filter) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.write(table, func(work memTables) error {
		return work.update(table, id, patch, guard)
	})
}

// write applies fn to a copy of table and keeps the result only once the
// snapshot is saved. Callers hold st.mu.
func (st *MemoryStore) write(table string, fn func(memTables) error) error {
	work := make(memTables, len(st.tables)+1)
	for name, rows := range st.tables {
		work[name] = rows
	}
	rows := st.tables[table]
	copied := make([]Record, len(rows))
	for i, r := range rows {
		copied[i] = r.clone()
	}
	work[table] = copied

	if err := fn(work); err != nil {
		return err
	}
	if err := st.saveToFile(work); err != nil {
		return err
	}
	st.tables = work
	return nil
}

// WithTx runs fn against a private copy of the tables and swaps it in only
// when fn succeeds. The store is locked for the duration, so fn must use the
// store it is given.
func (st *MemoryStore) WithTx(ctx context.Context, fn func(RecordStore) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	work := make(memTables, len(st.tables))
	for name, rows := range st.tables {
		copied := make([]Record, len(rows))
		for i, r := range rows {
			copied[i] = r.clone()
		}
		work[name] = copied
	}
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	if err := st.saveToFile(work); err != nil {
		return err
	}
	st.tables = work
	return nil
}

// memTables is the unlocked table set shared by MemoryStore and its
// transactions.
type memTables map[string][]Record

func (t memTables) Query(ctx context.Context, table string, f Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.query(table, f)
}

func (t memTables) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.insert(table, rec)
}

func (t memTables) Update(ctx context.Context, table, id string, patch Record, guard Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.update(table, id, patch, guard)
}

func (t memTables) query(table string, f Filter) ([]Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	out := make([]Record, 0)
	for _, r := range t[table] {
		if matches(r, f.Eq) {
			out = append(out, r.clone())
		}
	}
	if f.OrderBy != "" {
		col := f.OrderBy
		sort.SliceStable(out, func(i, j int) bool {
			if f.Desc {
				return lessValue(out[j][col], out[i][col])
			}
			return lessValue(out[i][col], out[j][col])
		})
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t memTables) insert(table string, rec Record) (Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	row := rec.clone()
	if asString(row["id"]) == "" {
		row["id"] = uuid.NewString()
	}
	id := asString(row["id"])
	for _, existing := range t[table] {
		if asString(existing["id"]) == id {
			return nil, fmt.Errorf("insert %s: duplicate id %s", table, id)
		}
	}
	t[table] = append(t[table], row)
	return row.clone(), nil
}

func (t memTables) update(table, id string, patch Record, guard Filter) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	for _, r := range t[table] {
		if asString(r["id"]) != id || !matches(r, guard.Eq) {
			continue
		}
		for k, v := range patch {
			r[k] = v
		}
		return nil
	}
	return ErrNoRows
}

func matches(r Record, eq map[string]any) bool {
	for k, want := range eq {
		if !equalValue(r[k], want) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) && isNumber(b) {
		da, errA := asDecimal(a)
		db, errB := asDecimal(b)
		return errA == nil && errB == nil && da.Equal(db)
	}
	return asString(a) == asString(b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case decimal.Decimal, float64, int, int64:
		return true
	}
	return false
}

func lessValue(a, b any) bool {
	if a == nil || b == nil {
		return a != nil && b == nil
	}
	switch av := a.(type) {
	case time.Time:
		if bv, err := asTime(b); err == nil {
			return av.Before(bv)
		}
	case decimal.Decimal, float64, float32, int, int32, int64:
		if bf := asFloatPtr(b); bf != nil {
			return asFloat(a) < *bf
		}
	case string:
		at, errA := asTime(av)
		bt, errB := asTime(b)
		if errA == nil && errB == nil {
			return at.Before(bt)
		}
	}
	return asString(a) < asString(b)
}
