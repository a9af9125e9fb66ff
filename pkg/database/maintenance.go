package database

import (
	"context"

	"github.com/bissli/database-sub001/pkg/strategy"
)

// Обертки над стратегией диалекта: обслуживание и интроспекция на
// текущем соединении.

// VacuumTable запускает обслуживание таблицы способом, принятым в
// диалекте
func (c *Connection) VacuumTable(ctx context.Context, table string) error {
	return Classify(c.dialect, "vacuum", c.strat.VacuumTable(ctx, c, table))
}

// ReindexTable перестраивает индексы таблицы
func (c *Connection) ReindexTable(ctx context.Context, table string) error {
	return Classify(c.dialect, "reindex", c.strat.ReindexTable(ctx, c, table))
}

// ClusterTable кластеризует таблицу по индексу, где диалект это умеет
func (c *Connection) ClusterTable(ctx context.Context, table, index string) error {
	return Classify(c.dialect, "cluster", c.strat.ClusterTable(ctx, c, table, index))
}

// ResetSequence перевыставляет последовательность колонки на максимум
func (c *Connection) ResetSequence(ctx context.Context, table, column string) error {
	return Classify(c.dialect, "reset sequence", c.strat.ResetSequence(ctx, c, table, column))
}

// GetPrimaryKeys возвращает первичные ключи таблицы
func (c *Connection) GetPrimaryKeys(ctx context.Context, table string) ([]string, error) {
	cols, err := c.strat.GetPrimaryKeys(ctx, c, table)
	return cols, Classify(c.dialect, "get primary keys", err)
}

// GetColumns возвращает колонки таблицы
func (c *Connection) GetColumns(ctx context.Context, table string) ([]string, error) {
	cols, err := c.strat.GetColumns(ctx, c, table)
	return cols, Classify(c.dialect, "get columns", err)
}

// GetSequenceColumns возвращает колонки-последовательности таблицы
func (c *Connection) GetSequenceColumns(ctx context.Context, table string) ([]string, error) {
	cols, err := c.strat.GetSequenceColumns(ctx, c, table)
	return cols, Classify(c.dialect, "get sequence columns", err)
}

// FindSequenceColumn подбирает колонку-последовательность эвристикой
// по метаданным таблицы
func (c *Connection) FindSequenceColumn(ctx context.Context, table string) (string, error) {
	col, err := strategy.FindSequenceColumn(ctx, c.strat, c, table)
	return col, Classify(c.dialect, "find sequence column", err)
}

// InvalidateSchemaCache сбрасывает кэшированные метаданные таблицы;
// следующая интроспекция прочитает их напрямую из БД
func (c *Connection) InvalidateSchemaCache(ctx context.Context, table string) {
	c.cache.InvalidateTable(ctx, string(c.dialect), c.Database(), table)
}
