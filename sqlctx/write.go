package sqlctx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"tablegraph/datactx"
)

func (v view) Insert(ctx context.Context, record datactx.Row) ([]datactx.Row, error) {
	meta := v.table.meta

	names := make([]string, 0, len(record))
	for name := range record {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		col := meta.column(name)
		if col == nil {
			return nil, fmt.Errorf("insert into %s: column %s: %w", meta.name, name, datactx.ErrUnknownColumn)
		}
		if col.Virtual {
			return nil, fmt.Errorf("insert into %s: column %s is computed: %w", meta.name, name, datactx.ErrWriteRejected)
		}
	}

	if v.table.cat.dialect == Postgres {
		return v.insertReturning(ctx, record, names)
	}
	return v.insertReread(ctx, record, names)
}

// insertReturning inserts and echoes the stored row through RETURNING.
func (v view) insertReturning(ctx context.Context, record datactx.Row, names []string) ([]datactx.Row, error) {
	meta := v.table.meta
	cat := v.table.cat
	all := columnNames(meta)
	returning := strings.Join(quoteAll(cat.dialect, all), ", ")

	var query string
	var args []any
	if len(names) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s",
			cat.dialect.quoteIdentifier(meta.name), returning)
	} else {
		values := make([]any, len(names))
		for i, name := range names {
			values[i] = record[name]
		}
		var err error
		query, args, err = sq.Insert(cat.dialect.quoteIdentifier(meta.name)).
			Columns(quoteAll(cat.dialect, names)...).
			Values(values...).
			Suffix("RETURNING " + returning).
			PlaceholderFormat(cat.dialect.placeholders()).
			ToSql()
		if err != nil {
			return nil, err
		}
	}

	rows, err := cat.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, normalizeWriteError(err)
	}
	defer func() {
		_ = rows.Close()
	}()
	stored, err := scanRows(rows, all)
	if err != nil {
		return nil, normalizeWriteError(err)
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("insert into %s returned no row", meta.name)
	}
	return stored, nil
}

// insertReread inserts, then reads the stored row back by primary key,
// filling an auto-generated key from LastInsertId. Without a usable key the
// input record is echoed as-is.
func (v view) insertReread(ctx context.Context, record datactx.Row, names []string) ([]datactx.Row, error) {
	meta := v.table.meta
	cat := v.table.cat

	var result sql.Result
	var err error
	if len(names) == 0 {
		result, err = cat.db.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s () VALUES ()", cat.dialect.quoteIdentifier(meta.name)))
	} else {
		values := make([]any, len(names))
		for i, name := range names {
			values[i] = record[name]
		}
		var query string
		var args []any
		query, args, err = sq.Insert(cat.dialect.quoteIdentifier(meta.name)).
			Columns(quoteAll(cat.dialect, names)...).
			Values(values...).
			PlaceholderFormat(cat.dialect.placeholders()).
			ToSql()
		if err != nil {
			return nil, err
		}
		result, err = cat.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return nil, normalizeWriteError(err)
	}

	echo := []datactx.Row{copyRecord(record)}
	if len(meta.primary) == 0 {
		return echo, nil
	}

	key := sq.Eq{}
	for _, pk := range meta.primary {
		if val, ok := record[pk]; ok && val != nil {
			key[cat.dialect.quoteIdentifier(pk)] = val
			continue
		}
		if pk != meta.identity {
			return echo, nil
		}
		id, err := result.LastInsertId()
		if err != nil {
			return echo, nil
		}
		key[cat.dialect.quoteIdentifier(pk)] = id
	}

	all := columnNames(meta)
	builder := sq.Select(quoteAll(cat.dialect, all)...).
		From(cat.dialect.quoteIdentifier(meta.name)).
		Where(key).
		PlaceholderFormat(cat.dialect.placeholders())
	stored, err := cat.queryRows(ctx, builder, all)
	if err != nil || len(stored) == 0 {
		return echo, nil
	}
	return stored, nil
}

func (v view) Update(ctx context.Context, set datactx.Row) (int64, error) {
	meta := v.table.meta
	cat := v.table.cat

	if err := validateConds(meta, v.conds); err != nil {
		return 0, err
	}
	setMap := make(map[string]any, len(set))
	for name, value := range set {
		col := meta.column(name)
		if col == nil {
			return 0, fmt.Errorf("update %s: column %s: %w", meta.name, name, datactx.ErrUnknownColumn)
		}
		if col.Identity || col.Virtual {
			return 0, fmt.Errorf("update %s: column %s is generated: %w", meta.name, name, datactx.ErrWriteRejected)
		}
		if value == nil && !col.Nullable {
			return 0, fmt.Errorf("update %s: column %s cannot be null: %w", meta.name, name, datactx.ErrWriteRejected)
		}
		setMap[cat.dialect.quoteIdentifier(name)] = value
	}
	if len(setMap) == 0 {
		return 0, nil
	}

	builder := sq.Update(cat.dialect.quoteIdentifier(meta.name)).SetMap(setMap)
	if pred := wherePredicate(cat.dialect, v.conds); pred != nil {
		builder = builder.Where(pred)
	}
	query, args, err := builder.PlaceholderFormat(cat.dialect.placeholders()).ToSql()
	if err != nil {
		return 0, err
	}
	result, err := cat.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, normalizeWriteError(err)
	}
	return result.RowsAffected()
}

func (v view) Delete(ctx context.Context) (int64, error) {
	meta := v.table.meta
	cat := v.table.cat

	if err := validateConds(meta, v.conds); err != nil {
		return 0, err
	}

	builder := sq.Delete(cat.dialect.quoteIdentifier(meta.name))
	if pred := wherePredicate(cat.dialect, v.conds); pred != nil {
		builder = builder.Where(pred)
	}
	query, args, err := builder.PlaceholderFormat(cat.dialect.placeholders()).ToSql()
	if err != nil {
		return 0, err
	}
	result, err := cat.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, normalizeWriteError(err)
	}
	return result.RowsAffected()
}

func columnNames(meta *tableMeta) []string {
	names := make([]string, len(meta.columns))
	for i, col := range meta.columns {
		names[i] = col.Name
	}
	return names
}

func copyRecord(record datactx.Row) datactx.Row {
	out := make(datactx.Row, len(record))
	for k, val := range record {
		out[k] = val
	}
	return out
}

// MySQL error numbers for constraint violations.
// See: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	mysqlErrNullColumn      = 1048
	mysqlErrDuplicateEntry  = 1062
	mysqlErrRowIsReferenced = 1451
	mysqlErrNoReferencedRow = 1452
	mysqlErrNoDefaultForCol = 1364
	mysqlErrGeneratedColumn = 3105
	mysqlErrCheckViolated   = 3819
)

// Postgres SQLSTATE codes for constraint violations.
const (
	pgErrNotNullViolation = "23502"
	pgErrFKViolation      = "23503"
	pgErrUniqueViolation  = "23505"
	pgErrCheckViolation   = "23514"
	pgErrGeneratedAlways  = "428C9"
)

// normalizeWriteError maps driver constraint violations onto the shared
// write-rejection sentinel so callers classify them without knowing the
// dialect. Other errors pass through unchanged.
func normalizeWriteError(err error) error {
	if err == nil {
		return nil
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDuplicateEntry:
			return fmt.Errorf("unique violation: %s: %w", mysqlErr.Message, datactx.ErrWriteRejected)
		case mysqlErrRowIsReferenced, mysqlErrNoReferencedRow:
			return fmt.Errorf("foreign key violation: %s: %w", mysqlErr.Message, datactx.ErrWriteRejected)
		case mysqlErrNullColumn, mysqlErrNoDefaultForCol:
			return fmt.Errorf("not null violation: %s: %w", mysqlErr.Message, datactx.ErrWriteRejected)
		case mysqlErrGeneratedColumn:
			return fmt.Errorf("generated column: %s: %w", mysqlErr.Message, datactx.ErrWriteRejected)
		case mysqlErrCheckViolated:
			return fmt.Errorf("check violation: %s: %w", mysqlErr.Message, datactx.ErrWriteRejected)
		}
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("unique violation: %s: %w", pgErr.Message, datactx.ErrWriteRejected)
		case pgErrFKViolation:
			return fmt.Errorf("foreign key violation: %s: %w", pgErr.Message, datactx.ErrWriteRejected)
		case pgErrNotNullViolation:
			return fmt.Errorf("not null violation: %s: %w", pgErr.Message, datactx.ErrWriteRejected)
		case pgErrCheckViolation:
			return fmt.Errorf("check violation: %s: %w", pgErr.Message, datactx.ErrWriteRejected)
		case pgErrGeneratedAlways:
			return fmt.Errorf("generated column: %s: %w", pgErr.Message, datactx.ErrWriteRejected)
		}
		return err
	}

	return err
}
