package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bissli/database-sub001/pkg/sqlutil"
	"github.com/bissli/database-sub001/pkg/strategy"
)

// UpsertOptions - политика колонок для insert-or-update
type UpsertOptions struct {
	// KeyColumns - конфликтные колонки; пустой список включает
	// автоопределение по первичным ключам таблицы
	KeyColumns []string
	// UpdateAlways - колонки, перезаписываемые всегда
	UpdateAlways []string
	// UpdateIfNull - колонки, перезаписываемые только непустым входным
	// значением; NULL на входе сохраняет хранимое значение
	UpdateIfNull []string
	// Constraint - имя уникального индекса для conflict-target вместо
	// списка ключевых колонок (PostgreSQL и SQLite)
	Constraint string
	// ResetSequence - перевыставить последовательность таблицы после
	// upsert, в том числе при ошибке
	ResetSequence bool
	// BatchSize - явный размер батча; 0 означает расчет по лимиту
	// параметров диалекта
	BatchSize int
}

// Upsert вставляет строки с разрешением конфликтов по ключевым
// колонкам. PostgreSQL и SQLite используют INSERT ... ON CONFLICT,
// SQL Server - MERGE. Возвращает сумму затронутых строк по всем
// батчам. Если ни UpdateAlways, ни UpdateIfNull не заданы,
// конфликтующие строки не трогаются.
func (c *Connection) Upsert(ctx context.Context, table string, rows []map[string]any, opts UpsertOptions) (affected int64, err error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if opts.ResetSequence {
		// сброс последовательности выполняется даже при ошибке upsert
		defer func() {
			seqCol, seqErr := strategy.FindSequenceColumn(ctx, c.strat, c, table)
			if seqErr != nil {
				c.log.Warn().Err(seqErr).Str("table", table).Msg("cannot locate sequence column, skipping reset")
				return
			}
			if seqErr := c.strat.ResetSequence(ctx, c, table, seqCol); seqErr != nil {
				c.log.Warn().Err(seqErr).Str("table", table).Msg("sequence reset after upsert failed")
			}
		}()
	}

	plan, err := c.buildUpsertPlan(ctx, table, rows, opts)
	if err != nil {
		return 0, err
	}
	if plan == nil {
		return 0, nil
	}

	if c.dialect == sqlutil.SQLServer {
		return c.upsertMerge(ctx, plan)
	}
	return c.upsertOnConflict(ctx, plan)
}

// upsertPlan - развернутое описание одного upsert-вызова
type upsertPlan struct {
	table        string
	rows         []map[string]any
	columns      []string
	keys         []string
	updateAlways []string
	updateIfNull []string
	// conflictTarget - '(col, ...)' с опциональным WHERE частичного
	// индекса
	conflictTarget string
	batchSize      int
}

func (c *Connection) buildUpsertPlan(ctx context.Context, table string, rows []map[string]any, opts UpsertOptions) (*upsertPlan, error) {
	filtered, err := c.FilterTableColumns(ctx, table, rows)
	if err != nil {
		return nil, err
	}
	columns, err := c.orderedColumns(ctx, table, filtered)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		c.log.Warn().Str("table", table).Msg("no upsertable columns remain after filtering")
		return nil, nil
	}

	keys := opts.KeyColumns
	if len(keys) == 0 {
		keys, err = c.strat.GetPrimaryKeys(ctx, c, table)
		if err != nil {
			return nil, Classify(c.dialect, "upsert", err)
		}
	} else {
		// явно заданный ключ не сужается молча: каждая его колонка
		// обязана присутствовать во входных строках
		if missing := missingColumn(keys, columns); missing != "" {
			return nil, validationError("upsert", "key column %q is missing from the input rows for table %q", missing, table)
		}
	}
	keys = matchCasing(keys, columns)
	if len(keys) == 0 && opts.Constraint == "" {
		return nil, validationError("upsert", "no key columns given and table %q has no primary key", table)
	}

	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[strings.ToLower(k)] = true
	}
	updateAlways := filterUpdateColumns(c.log, "update_always", matchCasing(opts.UpdateAlways, columns), keySet)
	updateIfNull := filterUpdateColumns(c.log, "update_ifnull", matchCasing(opts.UpdateIfNull, columns), keySet)

	conflictTarget := ""
	if opts.Constraint != "" {
		conflictTarget, err = c.strat.GetConstraintDefinition(ctx, c, table, opts.Constraint)
		if err != nil {
			return nil, validationError("upsert", "%v", err)
		}
	}

	batchSize := batchRows(c.paramLimit(), len(columns), opts.BatchSize)
	// широкие строки в PostgreSQL ограничиваются жестче, чтобы не
	// упираться в размер statement
	if c.dialect == sqlutil.Postgres && len(columns) > 10 && batchSize > 1000 {
		batchSize = 1000
	}

	return &upsertPlan{
		table:          table,
		rows:           filtered,
		columns:        columns,
		keys:           keys,
		updateAlways:   updateAlways,
		updateIfNull:   updateIfNull,
		conflictTarget: conflictTarget,
		batchSize:      batchSize,
	}, nil
}

// matchCasing приводит имена к регистру, который репортит таблица
func matchCasing(names, columns []string) []string {
	casing := make(map[string]string, len(columns))
	for _, c := range columns {
		casing[strings.ToLower(c)] = c
	}
	var out []string
	for _, n := range names {
		if actual, ok := casing[strings.ToLower(n)]; ok {
			out = append(out, actual)
		}
	}
	return out
}

// missingColumn возвращает первое имя из names, которого нет в columns
// (сравнение без учёта регистра), или пустую строку
func missingColumn(names, columns []string) string {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[strings.ToLower(c)] = true
	}
	for _, n := range names {
		if !present[strings.ToLower(n)] {
			return n
		}
	}
	return ""
}

// filterUpdateColumns исключает ключевые колонки из списка обновляемых
func filterUpdateColumns(log zerolog.Logger, kind string, cols []string, keySet map[string]bool) []string {
	var out []string
	for _, col := range cols {
		if keySet[strings.ToLower(col)] {
			log.Warn().Str("column", col).Msg(kind + " column is a key column, excluding from update set")
			continue
		}
		out = append(out, col)
	}
	return out
}

// upsertOnConflict выполняет INSERT ... ON CONFLICT батчами
func (c *Connection) upsertOnConflict(ctx context.Context, plan *upsertPlan) (int64, error) {
	var total int64
	for start := 0; start < len(plan.rows); start += plan.batchSize {
		end := start + plan.batchSize
		if end > len(plan.rows) {
			end = len(plan.rows)
		}
		batch := plan.rows[start:end]

		stmt, err := buildConflictUpsert(c.dialect, plan, len(batch))
		if err != nil {
			return total, err
		}
		affected, err := c.Execute(ctx, stmt, flattenRows(batch, plan.columns)...)
		if err != nil {
			return total, fmt.Errorf("upsert batch starting at row %d failed after %d rows: %w", start, total, err)
		}
		total += affected
	}
	return total, nil
}

// buildConflictUpsert строит INSERT ... ON CONFLICT для батча
func buildConflictUpsert(d sqlutil.Dialect, plan *upsertPlan, nrows int) (string, error) {
	insert, err := buildInsert(d, plan.table, plan.columns, nrows)
	if err != nil {
		return "", err
	}

	conflict := plan.conflictTarget
	if conflict == "" {
		quoted := make([]string, len(plan.keys))
		for i, k := range plan.keys {
			q, err := sqlutil.QuoteIdentifier(k, d)
			if err != nil {
				return "", validationError("upsert", "%v", err)
			}
			quoted[i] = q
		}
		conflict = "(" + strings.Join(quoted, ", ") + ")"
	}

	if len(plan.updateAlways) == 0 && len(plan.updateIfNull) == 0 {
		return fmt.Sprintf("%s on conflict %s do nothing", insert, conflict), nil
	}

	quotedTable, err := sqlutil.QuoteIdentifier(plan.table, d)
	if err != nil {
		return "", validationError("upsert", "%v", err)
	}
	var set []string
	for _, col := range plan.updateAlways {
		q, err := sqlutil.QuoteIdentifier(col, d)
		if err != nil {
			return "", validationError("upsert", "%v", err)
		}
		set = append(set, fmt.Sprintf("%s = excluded.%s", q, q))
	}
	for _, col := range plan.updateIfNull {
		q, err := sqlutil.QuoteIdentifier(col, d)
		if err != nil {
			return "", validationError("upsert", "%v", err)
		}
		set = append(set, fmt.Sprintf("%s = coalesce(excluded.%s, %s.%s)", q, q, quotedTable, q))
	}
	return fmt.Sprintf("%s on conflict %s do update set %s", insert, conflict, strings.Join(set, ", ")), nil
}

// upsertMerge выполняет MERGE для SQL Server. NULL-сохраняющие колонки
// требуют предварительного чтения существующих строк: MERGE не умеет
// ссылаться на значение целевой строки до обновления. Окно между
// чтением и MERGE не закрыто транзакцией, конкурентный писатель может
// изменить строку между ними.
func (c *Connection) upsertMerge(ctx context.Context, plan *upsertPlan) (int64, error) {
	if len(plan.keys) == 0 {
		return 0, validationError("upsert", "merge requires explicit or detected key columns")
	}
	if len(plan.updateIfNull) > 0 {
		existing, err := c.fetchExistingRows(ctx, plan)
		if err != nil {
			return 0, err
		}
		mergeExistingValues(plan, existing)
	}
	updateCols := append(append([]string{}, plan.updateAlways...), plan.updateIfNull...)

	var total int64
	for start := 0; start < len(plan.rows); start += plan.batchSize {
		end := start + plan.batchSize
		if end > len(plan.rows) {
			end = len(plan.rows)
		}
		batch := plan.rows[start:end]

		stmt, err := buildMerge(plan.table, plan.columns, plan.keys, updateCols, len(batch))
		if err != nil {
			return total, err
		}
		affected, err := c.Execute(ctx, stmt, flattenRows(batch, plan.columns)...)
		if err != nil {
			return total, fmt.Errorf("merge batch starting at row %d failed after %d rows: %w", start, total, err)
		}
		total += affected
	}
	return total, nil
}

// buildMerge строит MERGE-statement для батча
func buildMerge(table string, columns, keys, updateCols []string, nrows int) (string, error) {
	d := sqlutil.SQLServer
	quotedTable, err := sqlutil.QuoteIdentifier(table, d)
	if err != nil {
		return "", validationError("upsert", "%v", err)
	}
	quoted := make([]string, len(columns))
	for i, col := range columns {
		q, err := sqlutil.QuoteIdentifier(col, d)
		if err != nil {
			return "", validationError("upsert", "%v", err)
		}
		quoted[i] = q
	}

	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	values := make([]string, nrows)
	for i := range values {
		values[i] = rowPlaceholder
	}

	var on []string
	for _, k := range keys {
		q, err := sqlutil.QuoteIdentifier(k, d)
		if err != nil {
			return "", validationError("upsert", "%v", err)
		}
		on = append(on, fmt.Sprintf("target.%s = src.%s", q, q))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "merge into %s as target using (values %s) as src (%s) on (%s)",
		quotedTable, strings.Join(values, ", "), strings.Join(quoted, ", "), strings.Join(on, " and "))

	if len(updateCols) > 0 {
		var set []string
		for _, col := range updateCols {
			q, err := sqlutil.QuoteIdentifier(col, d)
			if err != nil {
				return "", validationError("upsert", "%v", err)
			}
			set = append(set, fmt.Sprintf("target.%s = src.%s", q, q))
		}
		fmt.Fprintf(&b, " when matched then update set %s", strings.Join(set, ", "))
	}

	srcCols := make([]string, len(quoted))
	for i, q := range quoted {
		srcCols[i] = "src." + q
	}
	fmt.Fprintf(&b, " when not matched then insert (%s) values (%s);",
		strings.Join(quoted, ", "), strings.Join(srcCols, ", "))
	return b.String(), nil
}

// fetchExistingRows читает существующие строки по ключевым кортежам
// батчами, укладываясь в безопасный лимит параметров.
func (c *Connection) fetchExistingRows(ctx context.Context, plan *upsertPlan) (map[string]map[string]any, error) {
	quotedTable, err := sqlutil.QuoteIdentifier(plan.table, sqlutil.SQLServer)
	if err != nil {
		return nil, validationError("upsert", "%v", err)
	}
	quotedKeys := make([]string, len(plan.keys))
	for i, k := range plan.keys {
		q, err := sqlutil.QuoteIdentifier(k, sqlutil.SQLServer)
		if err != nil {
			return nil, validationError("upsert", "%v", err)
		}
		quotedKeys[i] = q
	}

	var predicate []string
	for _, q := range quotedKeys {
		predicate = append(predicate, q+" = ?")
	}
	tuplePredicate := "(" + strings.Join(predicate, " and ") + ")"

	safeLimit := c.paramLimit() / 2
	if safeLimit < 50 {
		safeLimit = 50
	}
	tuplesPerBatch := safeLimit / len(plan.keys)
	if tuplesPerBatch < 1 {
		tuplesPerBatch = 1
	}

	existing := make(map[string]map[string]any)
	for start := 0; start < len(plan.rows); start += tuplesPerBatch {
		end := start + tuplesPerBatch
		if end > len(plan.rows) {
			end = len(plan.rows)
		}
		batch := plan.rows[start:end]

		preds := make([]string, len(batch))
		args := make([]any, 0, len(batch)*len(plan.keys))
		for i, row := range batch {
			preds[i] = tuplePredicate
			for _, k := range plan.keys {
				args = append(args, row[k])
			}
		}
		stmt := fmt.Sprintf("select * from %s where %s", quotedTable, strings.Join(preds, " or "))
		rows, err := c.Select(ctx, stmt, args...)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			existing[keyFingerprint(row, plan.keys)] = row
		}
	}
	return existing, nil
}

// mergeExistingValues подставляет хранимые значения вместо входных
// NULL для NULL-сохраняющих колонок
func mergeExistingValues(plan *upsertPlan, existing map[string]map[string]any) {
	for _, row := range plan.rows {
		stored, ok := existing[keyFingerprint(row, plan.keys)]
		if !ok {
			continue
		}
		for _, col := range plan.updateIfNull {
			if row[col] == nil {
				row[col] = stored[col]
			}
		}
	}
}

// keyFingerprint строит ключ строки из значений ключевых колонок
func keyFingerprint(row map[string]any, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprint(row[k])
	}
	return strings.Join(parts, "\x1f")
}
