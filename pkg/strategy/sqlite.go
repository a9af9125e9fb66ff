package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bissli/database-sub001/pkg/schemacache"
	"github.com/bissli/database-sub001/pkg/sqlutil"
)

func init() {
	register(sqlutil.SQLite, func(cache schemacache.Cache, log zerolog.Logger) Strategy {
		return &sqliteStrategy{base: base{dialect: sqlutil.SQLite, cache: cache, log: log}}
	})
}

// sqliteStrategy - операции обслуживания и интроспекции SQLite
type sqliteStrategy struct {
	base
}

var _ Strategy = (*sqliteStrategy)(nil)

func (s *sqliteStrategy) Dialect() sqlutil.Dialect { return sqlutil.SQLite }

// VacuumTable в SQLite работает только для всей базы, аргумент таблицы
// игнорируется.
func (s *sqliteStrategy) VacuumTable(ctx context.Context, r Runner, table string) error {
	s.log.Warn().Str("table", table).Msg("sqlite vacuum runs on the whole database, table argument ignored")
	_, err := r.ExecContext(ctx, "VACUUM")
	return err
}

func (s *sqliteStrategy) ReindexTable(ctx context.Context, r Runner, table string) error {
	quoted, err := s.QuoteIdentifier(table)
	if err != nil {
		return err
	}
	_, err = r.ExecContext(ctx, fmt.Sprintf("REINDEX %s", quoted))
	return err
}

func (s *sqliteStrategy) ClusterTable(ctx context.Context, r Runner, table, index string) error {
	s.log.Warn().Str("table", table).Msg("sqlite does not support clustering, skipping")
	return nil
}

// ResetSequence - no-op: SQLite переиспользует rowid автоматически
func (s *sqliteStrategy) ResetSequence(ctx context.Context, r Runner, table, column string) error {
	s.log.Debug().Str("table", table).Str("column", column).Msg("sqlite manages rowid sequences automatically, nothing to reset")
	return nil
}

func (s *sqliteStrategy) GetPrimaryKeys(ctx context.Context, r Runner, table string) ([]string, error) {
	return s.cachedList(ctx, r, table, "primary_keys", func() ([]string, error) {
		return queryStrings(ctx, r, "select name from pragma_table_info(?) where pk <> 0 order by pk", table)
	})
}

func (s *sqliteStrategy) GetColumns(ctx context.Context, r Runner, table string) ([]string, error) {
	return s.cachedList(ctx, r, table, "columns", func() ([]string, error) {
		return queryStrings(ctx, r, "select name from pragma_table_info(?) order by cid", table)
	})
}

// GetSequenceColumns совпадает с первичными ключами: в SQLite нет
// последовательностей как отдельной сущности.
func (s *sqliteStrategy) GetSequenceColumns(ctx context.Context, r Runner, table string) ([]string, error) {
	return s.GetPrimaryKeys(ctx, r, table)
}

func (s *sqliteStrategy) GetConstraintDefinition(ctx context.Context, r Runner, table, constraint string) (string, error) {
	columns, err := queryStrings(ctx, r, "select name from pragma_index_info(?) order by seqno", constraint)
	if err != nil {
		return "", fmt.Errorf("failed to read index info for %s: %w", constraint, err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("constraint %q not found on table %q", constraint, table)
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		q, err := s.QuoteIdentifier(c)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	return "(" + strings.Join(quoted, ", ") + ")", nil
}

// ConfigureConnection включает проверку внешних ключей, по умолчанию
// в SQLite она выключена.
func (s *sqliteStrategy) ConfigureConnection(ctx context.Context, r Runner) error {
	if _, err := r.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

func (s *sqliteStrategy) QuoteIdentifier(name string) (string, error) {
	return sqlutil.QuoteIdentifier(name, sqlutil.SQLite)
}

func (s *sqliteStrategy) ParamLimit() int {
	return sqlutil.ParamLimit(sqlutil.SQLite)
}
