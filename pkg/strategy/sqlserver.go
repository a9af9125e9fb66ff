package strategy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bissli/database-sub001/pkg/schemacache"
	"github.com/bissli/database-sub001/pkg/sqlutil"
)

func init() {
	register(sqlutil.SQLServer, func(cache schemacache.Cache, log zerolog.Logger) Strategy {
		return &sqlserverStrategy{base: base{dialect: sqlutil.SQLServer, cache: cache, log: log}}
	})
}

// sqlserverStrategy - операции обслуживания и интроспекции SQL Server
type sqlserverStrategy struct {
	base
}

var _ Strategy = (*sqlserverStrategy)(nil)

func (s *sqlserverStrategy) Dialect() sqlutil.Dialect { return sqlutil.SQLServer }

// VacuumTable - ближайший аналог в SQL Server это перестройка всех
// индексов таблицы.
func (s *sqlserverStrategy) VacuumTable(ctx context.Context, r Runner, table string) error {
	return s.rebuildIndexes(ctx, r, table)
}

func (s *sqlserverStrategy) ReindexTable(ctx context.Context, r Runner, table string) error {
	return s.rebuildIndexes(ctx, r, table)
}

func (s *sqlserverStrategy) rebuildIndexes(ctx context.Context, r Runner, table string) error {
	quoted, err := s.QuoteIdentifier(table)
	if err != nil {
		return err
	}
	_, err = r.ExecContext(ctx, fmt.Sprintf("ALTER INDEX ALL ON %s REBUILD", quoted))
	return err
}

func (s *sqlserverStrategy) ClusterTable(ctx context.Context, r Runner, table, index string) error {
	s.log.Warn().Str("table", table).Msg("sql server does not support clustering on demand, skipping")
	return nil
}

// ResetSequence перевыставляет identity-счетчик на текущий максимум
// колонки через DBCC CHECKIDENT.
func (s *sqlserverStrategy) ResetSequence(ctx context.Context, r Runner, table, column string) error {
	quotedTable, err := s.QuoteIdentifier(table)
	if err != nil {
		return err
	}
	quotedColumn, err := s.QuoteIdentifier(column)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(
		"declare @max int; select @max = isnull(max(%s), 0) from %s; dbcc checkident ('%s', reseed, @max);",
		quotedColumn, quotedTable, table)
	if _, err := r.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to reseed identity on %s.%s: %w", table, column, err)
	}
	return nil
}

func (s *sqlserverStrategy) GetPrimaryKeys(ctx context.Context, r Runner, table string) ([]string, error) {
	return s.cachedList(ctx, r, table, "primary_keys", func() ([]string, error) {
		query := `
select c.name
from sys.indexes i
join sys.index_columns ic on i.object_id = ic.object_id and i.index_id = ic.index_id
join sys.columns c on ic.object_id = c.object_id and ic.column_id = c.column_id
where i.is_primary_key = 1 and i.object_id = object_id(?)
order by ic.key_ordinal`
		return queryStrings(ctx, r, query, table)
	})
}

func (s *sqlserverStrategy) GetColumns(ctx context.Context, r Runner, table string) ([]string, error) {
	return s.cachedList(ctx, r, table, "columns", func() ([]string, error) {
		query := `
select c.name
from sys.columns c
join sys.tables t on c.object_id = t.object_id
where t.name = ?
order by c.column_id`
		return queryStrings(ctx, r, query, table)
	})
}

func (s *sqlserverStrategy) GetSequenceColumns(ctx context.Context, r Runner, table string) ([]string, error) {
	return s.cachedList(ctx, r, table, "sequence_columns", func() ([]string, error) {
		query := `
select c.name
from sys.columns c
where c.object_id = object_id(?) and c.is_identity = 1`
		return queryStrings(ctx, r, query, table)
	})
}

// GetConstraintDefinition не используется: upsert в SQL Server строится
// через MERGE по ключевым колонкам, а не по conflict-target.
func (s *sqlserverStrategy) GetConstraintDefinition(ctx context.Context, r Runner, table, constraint string) (string, error) {
	return "", fmt.Errorf("constraint targets are not applicable to sql server merge statements")
}

func (s *sqlserverStrategy) ConfigureConnection(ctx context.Context, r Runner) error {
	return nil
}

func (s *sqlserverStrategy) QuoteIdentifier(name string) (string, error) {
	return sqlutil.QuoteIdentifier(name, sqlutil.SQLServer)
}

func (s *sqlserverStrategy) ParamLimit() int {
	return sqlutil.ParamLimit(sqlutil.SQLServer)
}
