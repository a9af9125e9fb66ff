package database

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/bissli/database-sub001/pkg/dbtypes"
	"github.com/bissli/database-sub001/pkg/sqlutil"
)

// ResultSet - результат запроса: метаданные колонок в порядке
// следования и строки в виде словарей.
type ResultSet struct {
	Columns []dbtypes.Column
	Rows    []map[string]any
}

// Empty сообщает об отсутствии строк
func (rs *ResultSet) Empty() bool { return len(rs.Rows) == 0 }

// SelectResult выполняет запрос и возвращает строки с метаданными
func (c *Connection) SelectResult(ctx context.Context, query string, args ...any) (*ResultSet, error) {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return c.scanAll(rows)
}

// Select выполняет запрос и возвращает строки-словари
func (c *Connection) Select(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rs, err := c.SelectResult(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rs.Rows, nil
}

// SelectAs выполняет запрос и материализует результат колбеком из
// конфигурации. Без колбека возвращаются строки-словари.
func (c *Connection) SelectAs(ctx context.Context, query string, args ...any) (any, error) {
	rs, err := c.SelectResult(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if c.cfg.Materializer == nil {
		return rs.Rows, nil
	}
	return c.cfg.Materializer(rs.Rows, rs.Columns), nil
}

// SelectRow возвращает ровно одну строку; иное число строк - ошибка
func (c *Connection) SelectRow(ctx context.Context, query string, args ...any) (map[string]any, error) {
	rs, err := c.SelectResult(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) != 1 {
		return nil, validationError("select row", "expected exactly one row, got %d", len(rs.Rows))
	}
	return rs.Rows[0], nil
}

// SelectScalar возвращает значение первой колонки единственной строки
func (c *Connection) SelectScalar(ctx context.Context, query string, args ...any) (any, error) {
	rs, err := c.SelectResult(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) != 1 || len(rs.Columns) == 0 {
		return nil, validationError("select scalar", "expected exactly one row with at least one column, got %d rows", len(rs.Rows))
	}
	return rs.Rows[0][rs.Columns[0].Name], nil
}

// SelectColumn возвращает значения первой колонки по всем строкам
func (c *Connection) SelectColumn(ctx context.Context, query string, args ...any) ([]any, error) {
	rs, err := c.SelectResult(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rs.Columns) == 0 {
		return nil, nil
	}
	name := rs.Columns[0].Name
	out := make([]any, len(rs.Rows))
	for i, row := range rs.Rows {
		out[i] = row[name]
	}
	return out, nil
}

// SelectChunked читает результат порциями по size строк и передает
// каждую порцию в fn. Итерация однонаправленная и конечная: пустая
// порция или сбой чтения означают конец данных.
func (c *Connection) SelectChunked(ctx context.Context, query string, args []any, size int, fn func(*ResultSet) error) error {
	if size <= 0 {
		size = c.cfg.ChunkSize
	}
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return Classify(c.dialect, "select", err)
	}
	columns := dbtypes.ColumnsFromTypes(c.dialect, types)

	for {
		chunk := &ResultSet{Columns: columns, Rows: make([]map[string]any, 0, size)}
		for len(chunk.Rows) < size && rows.Next() {
			row, err := c.scanRow(rows, columns)
			if err != nil {
				// сбой чтения трактуется как конец данных
				c.log.Debug().Err(err).Msg("chunked iteration stopped on fetch error")
				return nil
			}
			chunk.Rows = append(chunk.Rows, row)
		}
		if len(chunk.Rows) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
		if len(chunk.Rows) < size {
			return nil
		}
	}
}

func (c *Connection) scanAll(rows *sql.Rows) (*ResultSet, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, Classify(c.dialect, "select", err)
	}
	columns := dbtypes.ColumnsFromTypes(c.dialect, types)

	rs := &ResultSet{Columns: columns}
	for rows.Next() {
		row, err := c.scanRow(rows, columns)
		if err != nil {
			return nil, Classify(c.dialect, "select", err)
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(c.dialect, "select", err)
	}
	return rs, nil
}

func (c *Connection) scanRow(rows *sql.Rows, columns []dbtypes.Column) (map[string]any, error) {
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(map[string]any, len(columns))
	for i, col := range columns {
		row[col.Name] = c.normalizeValue(col, values[i])
	}
	return row, nil
}

// normalizeValue приводит только числовые колонки: текстовые значения
// numeric-типов парсятся в float/int. Остальные типы отдаются как есть,
// семантических преобразований материализация не делает.
func (c *Connection) normalizeValue(col dbtypes.Column, v any) any {
	if v == nil || !col.Kind.Numeric() {
		return v
	}
	var text string
	switch x := v.(type) {
	case []byte:
		text = string(x)
	case string:
		text = x
	default:
		return v
	}
	if col.Kind == dbtypes.KindInt {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n
		}
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	return v
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, validationError("insert returning id", "identity value %q is not an integer", s)
	}
	return n, nil
}

// совместимость с диалектом на уровне пакетных операций
func (c *Connection) paramLimit() int {
	return sqlutil.ParamLimit(c.dialect)
}
