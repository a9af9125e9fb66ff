package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/bissli/database-sub001/pkg/dbtypes"
	"github.com/bissli/database-sub001/pkg/sqlutil"
)

// prepare прогоняет statement через пайплайн подготовки:
// конвертация параметров, сворачивание NULL в операторах IS,
// раскрытие IN-клауз и перевод плейсхолдеров под нативный стиль
// диалекта.
func (c *Connection) prepare(query string, args []any) (string, []any, error) {
	args = dbtypes.ConvertParams(args)

	query, args, err := sqlutil.FoldNullComparisons(query, args)
	if err != nil {
		return "", nil, validationError("prepare", "%v", err)
	}
	query, args, err = sqlutil.ExpandInClauses(query, args)
	if err != nil {
		return "", nil, validationError("prepare", "%v", err)
	}
	return sqlutil.StandardizePlaceholders(c.dialect, query), args, nil
}

// ExecContext выполняет statement и возвращает sql.Result. Время
// выполнения учитывается в статистике соединения независимо от исхода.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	defer func() { c.addCall(time.Since(start)) }()

	q, a, err := c.prepare(query, args)
	if err != nil {
		return nil, err
	}

	var res sql.Result
	err = c.do(ctx, func(ctx context.Context) error {
		ex, err := c.executor(ctx)
		if err != nil {
			return err
		}
		res, err = ex.ExecContext(ctx, q, a...)
		if err != nil {
			if repaired, ok := c.repairedOnce(q, err); ok {
				res, err = ex.ExecContext(ctx, repaired, a...)
			}
		}
		if err != nil {
			return c.fail("exec", q, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// QueryContext выполняет запрос и возвращает строки
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	defer func() { c.addCall(time.Since(start)) }()

	q, a, err := c.prepare(query, args)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	err = c.do(ctx, func(ctx context.Context) error {
		ex, err := c.executor(ctx)
		if err != nil {
			return err
		}
		rows, err = ex.QueryContext(ctx, q, a...)
		if err != nil {
			if repaired, ok := c.repairedOnce(q, err); ok {
				rows, err = ex.QueryContext(ctx, repaired, a...)
			}
		}
		if err != nil {
			return c.fail("query", q, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Execute выполняет statement и возвращает число затронутых строк
func (c *Connection) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, Classify(c.dialect, "exec", err)
	}
	return affected, nil
}

// Callproc выполняет хранимую процедуру. Для SQL Server это обычный
// exec-вызов, отдельного протокола не требуется.
func (c *Connection) Callproc(ctx context.Context, query string, args ...any) (int64, error) {
	return c.Execute(ctx, query, args...)
}

// ExecuteReturningID выполняет insert и возвращает сгенерированный
// идентификатор. PostgreSQL ожидает RETURNING в запросе, SQLite
// использует last insert rowid, SQL Server дочитывает @@identity.
func (c *Connection) ExecuteReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	switch c.dialect {
	case sqlutil.SQLite:
		res, err := c.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, Classify(c.dialect, "insert returning id", err)
		}
		return id, nil
	case sqlutil.SQLServer:
		if !strings.Contains(strings.ToLower(query), "@@identity") {
			query += "; select @@identity as id"
		}
	case sqlutil.Postgres:
		if !strings.Contains(strings.ToLower(query), "returning") {
			return 0, validationError("insert returning id", "postgres statement must contain a RETURNING clause")
		}
	}

	id, err := c.SelectScalar(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return toInt64(id)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case []byte:
		return parseInt(string(x))
	case string:
		return parseInt(x)
	case nil:
		return 0, validationError("insert returning id", "driver returned no identity value")
	}
	return 0, validationError("insert returning id", "unexpected identity type %T", v)
}
