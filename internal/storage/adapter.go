package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	errMissingDB = errors.New("storage: missing database connection")
	errReadOnly  = errors.New("storage: database is read-only")

	ErrUnknownTable  = errors.New("storage: unknown table")
	ErrInvalidColumn = errors.New("storage: invalid column name")
	ErrNoFields      = errors.New("storage: no fields given")
)

// Record is a single row keyed by column name.
type Record map[string]any

type tableSpec struct {
	createdAt bool
	updatedAt bool
}

// tables lists every table reachable through the generic record API.
var tables = map[string]tableSpec{
	"albums":         {createdAt: true, updatedAt: true},
	"audio_files":    {createdAt: true},
	"play_history":   {createdAt: true, updatedAt: true},
	"admin_config":   {createdAt: true, updatedAt: true},
	"admin_sessions": {},
	"scan_runs":      {},
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func lookupTable(table string) (tableSpec, error) {
	spec, ok := tables[table]
	if !ok {
		return tableSpec{}, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return spec, nil
}

func checkColumns(fields Record) ([]string, error) {
	if len(fields) == 0 {
		return nil, ErrNoFields
	}
	columns := make([]string, 0, len(fields))
	for column := range fields {
		if !identifierPattern.MatchString(column) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidColumn, column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns, nil
}

// Get returns every row of table matching where, ordered by id. where is a
// parameterized SQL condition and may be empty.
func (s *Store) Get(ctx context.Context, table, where string, args ...any) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errMissingDB
	}
	if _, err := lookupTable(table); err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + table
	if strings.TrimSpace(where) != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []Record
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		record := make(Record, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				record[column] = string(b)
				continue
			}
			record[column] = values[i]
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetOne returns the first row matching where.
func (s *Store) GetOne(ctx context.Context, table, where string, args ...any) (Record, bool, error) {
	records, err := s.Get(ctx, table, where, args...)
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return records[0], true, nil
}

// Insert adds a row and returns the stored fields together with the new id.
// created_at and updated_at are filled in when the table carries them.
func (s *Store) Insert(ctx context.Context, table string, fields Record) (Record, error) {
	return insertRecord(ctx, s.db, s, table, fields)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, db execer, s *Store, table string, fields Record) (Record, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	spec, err := lookupTable(table)
	if err != nil {
		return nil, err
	}

	record := make(Record, len(fields)+3)
	for k, v := range fields {
		record[k] = v
	}
	now := s.now().Unix()
	if _, ok := record["created_at"]; spec.createdAt && !ok {
		record["created_at"] = now
	}
	if _, ok := record["updated_at"]; spec.updatedAt && !ok {
		record["updated_at"] = now
	}

	columns, err := checkColumns(record)
	if err != nil {
		return nil, err
	}
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, column := range columns {
		placeholders[i] = "?"
		args[i] = record[column]
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if _, ok := record["id"]; !ok {
		id, err := result.LastInsertId()
		if err != nil {
			return nil, err
		}
		record["id"] = id
	}
	return record, nil
}

// Update changes the given fields of the row with id. It reports whether a
// row was found.
func (s *Store) Update(ctx context.Context, table string, id any, fields Record) (bool, error) {
	if err := s.checkWritable(); err != nil {
		return false, err
	}
	spec, err := lookupTable(table)
	if err != nil {
		return false, err
	}

	record := make(Record, len(fields)+1)
	for k, v := range fields {
		if k == "id" {
			continue
		}
		record[k] = v
	}
	if len(record) == 0 {
		return false, ErrNoFields
	}
	if _, ok := record["updated_at"]; spec.updatedAt && !ok {
		record["updated_at"] = s.now().Unix()
	}

	columns, err := checkColumns(record)
	if err != nil {
		return false, err
	}
	assignments := make([]string, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, column := range columns {
		assignments[i] = column + " = ?"
		args = append(args, record[column])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(assignments, ", "))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Delete removes the row with id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, table string, id any) (bool, error) {
	if err := s.checkWritable(); err != nil {
		return false, err
	}
	if _, err := lookupTable(table); err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ExecSQL runs a statement and returns the number of affected rows.
func (s *Store) ExecSQL(ctx context.Context, query string, args ...any) (int64, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// withTx runs fn inside a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	if err := s.checkWritable(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
