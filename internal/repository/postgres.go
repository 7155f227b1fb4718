package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresStore is a RecordStore over database/sql with the lib/pq driver.
type PostgresStore struct {
	db *sql.DB
	q  querier
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) Query(ctx context.Context, table string, f Filter) ([]Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(pq.QuoteIdentifier(table))

	where, args, err := whereClause(f.Eq, 1)
	if err != nil {
		return nil, err
	}
	sb.WriteString(where)

	if f.OrderBy != "" {
		if err := checkIdent(f.OrderBy); err != nil {
			return nil, err
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(pq.QuoteIdentifier(f.OrderBy))
		if f.Desc {
			sb.WriteString(" DESC")
		}
	}
	if f.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", f.Limit))
	}

	rows, err := s.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	return records, nil
}

func (s *PostgresStore) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	cols := sortedKeys(rec)

	var query string
	args := make([]any, 0, len(cols))
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", pq.QuoteIdentifier(table))
	} else {
		quoted := make([]string, len(cols))
		params := make([]string, len(cols))
		for i, c := range cols {
			if err := checkIdent(c); err != nil {
				return nil, err
			}
			quoted[i] = pq.QuoteIdentifier(c)
			params[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, rec[c])
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
			pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("insert %s: %w", table, ErrNoRows)
	}
	return records[0], nil
}

func (s *PostgresStore) Update(ctx context.Context, table, id string, patch Record, guard Filter) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if len(patch) == 0 {
		return fmt.Errorf("update %s: empty patch", table)
	}
	cols := sortedKeys(patch)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(guard.Eq)+1)
	for i, c := range cols {
		if err := checkIdent(c); err != nil {
			return err
		}
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), i+1)
		args = append(args, patch[c])
	}
	args = append(args, id)
	idIdx := len(args)

	cond, guardArgs, err := conditions(guard.Eq, idIdx+1)
	if err != nil {
		return err
	}
	args = append(args, guardArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		pq.QuoteIdentifier(table), strings.Join(sets, ", "), pq.QuoteIdentifier("id"), idIdx)
	for _, c := range cond {
		query += " AND " + c
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}

// WithTx runs fn inside one database transaction. Calls made on a store that
// is already inside a transaction join it.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(RecordStore) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func whereClause(eq map[string]any, start int) (string, []any, error) {
	cond, args, err := conditions(eq, start)
	if err != nil || len(cond) == 0 {
		return "", args, err
	}
	return " WHERE " + strings.Join(cond, " AND "), args, nil
}

func conditions(eq map[string]any, start int) ([]string, []any, error) {
	var cond []string
	var args []any
	idx := start
	for _, c := range sortedKeys(eq) {
		if err := checkIdent(c); err != nil {
			return nil, nil, err
		}
		v := eq[c]
		if v == nil {
			cond = append(cond, pq.QuoteIdentifier(c)+" IS NULL")
			continue
		}
		cond = append(cond, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), idx))
		args = append(args, v)
		idx++
	}
	return cond, args, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
