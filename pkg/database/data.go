package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissli/database-sub001/pkg/sqlutil"
	"github.com/bissli/database-sub001/pkg/strategy"
)

// FilterTableColumns проецирует строки на живые колонки таблицы.
// Сопоставление имен нечувствительно к регистру, в результат попадает
// регистр, который репортит БД. Колонки, отсутствующие в таблице,
// отбрасываются с предупреждением в логе.
func (c *Connection) FilterTableColumns(ctx context.Context, table string, rows []map[string]any) ([]map[string]any, error) {
	tableCols, err := c.strat.GetColumns(ctx, c, table)
	if err != nil {
		return nil, Classify(c.dialect, "filter columns", err)
	}
	if len(tableCols) == 0 {
		return nil, validationError("filter columns", "table %q has no columns or does not exist", table)
	}

	casing := make(map[string]string, len(tableCols))
	for _, col := range tableCols {
		casing[strings.ToLower(col)] = col
	}

	dropped := make(map[string]bool)
	filtered := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out := make(map[string]any, len(row))
		for name, value := range row {
			actual, ok := casing[strings.ToLower(name)]
			if !ok {
				dropped[name] = true
				continue
			}
			out[actual] = value
		}
		filtered = append(filtered, out)
	}
	for name := range dropped {
		c.log.Warn().Str("table", table).Str("column", name).Msg("column not present in table, dropping from rows")
	}
	return filtered, nil
}

// orderedColumns возвращает колонки, встречающиеся в строках, в
// порядке следования колонок таблицы.
func (c *Connection) orderedColumns(ctx context.Context, table string, rows []map[string]any) ([]string, error) {
	tableCols, err := c.strat.GetColumns(ctx, c, table)
	if err != nil {
		return nil, Classify(c.dialect, "insert", err)
	}
	present := make(map[string]bool)
	for _, row := range rows {
		for name := range row {
			present[name] = true
		}
	}
	var columns []string
	for _, col := range tableCols {
		if present[col] {
			columns = append(columns, col)
		}
	}
	return columns, nil
}

// InsertRows вставляет строки multi-row VALUES statement'ами,
// разбивая на батчи по лимиту параметров диалекта. Возвращает сумму
// затронутых строк. Падение батча прерывает вызов: уже выполненные
// батчи при autocommit остаются зафиксированными, атомарность всего
// вызова обеспечивает внешний Transaction.
func (c *Connection) InsertRows(ctx context.Context, table string, rows []map[string]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	filtered, err := c.FilterTableColumns(ctx, table, rows)
	if err != nil {
		return 0, err
	}
	columns, err := c.orderedColumns(ctx, table, filtered)
	if err != nil {
		return 0, err
	}
	if len(columns) == 0 {
		c.log.Warn().Str("table", table).Msg("no insertable columns remain after filtering")
		return 0, nil
	}

	batchSize := batchRows(c.paramLimit(), len(columns), 0)
	var total int64
	for start := 0; start < len(filtered); start += batchSize {
		end := start + batchSize
		if end > len(filtered) {
			end = len(filtered)
		}
		batch := filtered[start:end]

		stmt, err := buildInsert(c.dialect, table, columns, len(batch))
		if err != nil {
			return total, err
		}
		affected, err := c.Execute(ctx, stmt, flattenRows(batch, columns)...)
		if err != nil {
			return total, fmt.Errorf("insert batch starting at row %d failed after %d rows: %w", start, total, err)
		}
		total += affected
	}
	return total, nil
}

// InsertIdentity вставляет одну строку и возвращает сгенерированный
// идентификатор последовательности.
func (c *Connection) InsertIdentity(ctx context.Context, table string, row map[string]any) (int64, error) {
	filtered, err := c.FilterTableColumns(ctx, table, []map[string]any{row})
	if err != nil {
		return 0, err
	}
	columns, err := c.orderedColumns(ctx, table, filtered)
	if err != nil {
		return 0, err
	}
	if len(columns) == 0 {
		return 0, validationError("insert identity", "row has no columns matching table %q", table)
	}

	stmt, err := buildInsert(c.dialect, table, columns, 1)
	if err != nil {
		return 0, err
	}
	if c.dialect == sqlutil.Postgres {
		seqCol, err := strategy.FindSequenceColumn(ctx, c.strat, c, table)
		if err != nil {
			return 0, err
		}
		quoted, err := c.strat.QuoteIdentifier(seqCol)
		if err != nil {
			return 0, validationError("insert identity", "%v", err)
		}
		stmt += " returning " + quoted
	}
	return c.ExecuteReturningID(ctx, stmt, flattenRows(filtered, columns)...)
}

// UpdateRow обновляет одну строку по ключевым полям. Ключевые и
// обновляемые поля обязаны не пересекаться, длины списков полей и
// значений обязаны совпадать.
func (c *Connection) UpdateRow(ctx context.Context, table string, keyFields []string, keyValues []any, dataFields []string, dataValues []any) (int64, error) {
	if len(keyFields) == 0 || len(dataFields) == 0 {
		return 0, validationError("update row", "key fields and data fields must both be non-empty")
	}
	if len(keyFields) != len(keyValues) {
		return 0, validationError("update row", "key fields (%d) and key values (%d) differ in length", len(keyFields), len(keyValues))
	}
	if len(dataFields) != len(dataValues) {
		return 0, validationError("update row", "data fields (%d) and data values (%d) differ in length", len(dataFields), len(dataValues))
	}
	keys := make(map[string]bool, len(keyFields))
	for _, k := range keyFields {
		keys[strings.ToLower(k)] = true
	}
	for _, f := range dataFields {
		if keys[strings.ToLower(f)] {
			return 0, validationError("update row", "field %q is declared both as key and as data", f)
		}
	}

	quotedTable, err := c.strat.QuoteIdentifier(table)
	if err != nil {
		return 0, validationError("update row", "%v", err)
	}
	set := make([]string, len(dataFields))
	for i, f := range dataFields {
		q, err := c.strat.QuoteIdentifier(f)
		if err != nil {
			return 0, validationError("update row", "%v", err)
		}
		set[i] = q + " = ?"
	}
	where := make([]string, len(keyFields))
	for i, f := range keyFields {
		q, err := c.strat.QuoteIdentifier(f)
		if err != nil {
			return 0, validationError("update row", "%v", err)
		}
		where[i] = q + " = ?"
	}

	stmt := fmt.Sprintf("update %s set %s where %s",
		quotedTable, strings.Join(set, ", "), strings.Join(where, " and "))
	args := append(append([]any{}, dataValues...), keyValues...)
	return c.Execute(ctx, stmt, args...)
}

// buildInsert строит multi-row INSERT с '?'-плейсхолдерами
func buildInsert(d sqlutil.Dialect, table string, columns []string, nrows int) (string, error) {
	quotedTable, err := sqlutil.QuoteIdentifier(table, d)
	if err != nil {
		return "", validationError("insert", "%v", err)
	}
	quoted := make([]string, len(columns))
	for i, col := range columns {
		q, err := sqlutil.QuoteIdentifier(col, d)
		if err != nil {
			return "", validationError("insert", "%v", err)
		}
		quoted[i] = q
	}
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	values := make([]string, nrows)
	for i := range values {
		values[i] = rowPlaceholder
	}
	return fmt.Sprintf("insert into %s (%s) values %s",
		quotedTable, strings.Join(quoted, ", "), strings.Join(values, ", ")), nil
}

// flattenRows разворачивает строки в плоский список аргументов в
// порядке колонок; отсутствующие значения биндятся как NULL.
func flattenRows(rows []map[string]any, columns []string) []any {
	args := make([]any, 0, len(rows)*len(columns))
	for _, row := range rows {
		for _, col := range columns {
			args = append(args, row[col])
		}
	}
	return args
}

// batchRows вычисляет число строк на один statement по лимиту
// параметров. override > 0 задает размер батча явно.
func batchRows(paramLimit, columnsPerRow, override int) int {
	if override > 0 {
		return override
	}
	if columnsPerRow <= 0 {
		return 1
	}
	n := paramLimit / columnsPerRow
	if n < 1 {
		return 1
	}
	return n
}
