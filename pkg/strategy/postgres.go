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
	register(sqlutil.Postgres, func(cache schemacache.Cache, log zerolog.Logger) Strategy {
		return &postgresStrategy{base: base{dialect: sqlutil.Postgres, cache: cache, log: log}}
	})
}

// postgresStrategy - операции обслуживания и интроспекции PostgreSQL
type postgresStrategy struct {
	base
}

var _ Strategy = (*postgresStrategy)(nil)

func (s *postgresStrategy) Dialect() sqlutil.Dialect { return sqlutil.Postgres }

// VacuumTable выполняет полный vacuum с анализом. VACUUM не работает
// внутри транзакции, поэтому операция идет под принудительным
// autocommit с восстановлением прежнего режима.
func (s *postgresStrategy) VacuumTable(ctx context.Context, r Runner, table string) error {
	quoted, err := s.QuoteIdentifier(table)
	if err != nil {
		return err
	}
	return withAutocommit(ctx, r, func() error {
		_, err := r.ExecContext(ctx, fmt.Sprintf("vacuum (full, analyze) %s", quoted))
		return err
	})
}

func (s *postgresStrategy) ReindexTable(ctx context.Context, r Runner, table string) error {
	quoted, err := s.QuoteIdentifier(table)
	if err != nil {
		return err
	}
	return withAutocommit(ctx, r, func() error {
		_, err := r.ExecContext(ctx, fmt.Sprintf("reindex table %s", quoted))
		return err
	})
}

func (s *postgresStrategy) ClusterTable(ctx context.Context, r Runner, table, index string) error {
	quoted, err := s.QuoteIdentifier(table)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("cluster %s", quoted)
	if index != "" {
		quotedIndex, err := s.QuoteIdentifier(index)
		if err != nil {
			return err
		}
		stmt = fmt.Sprintf("cluster %s using %s", quoted, quotedIndex)
	}
	return withAutocommit(ctx, r, func() error {
		_, err := r.ExecContext(ctx, stmt)
		return err
	})
}

// ResetSequence выставляет последовательность колонки на max(col)+1,
// следующий insert получит корректное значение.
func (s *postgresStrategy) ResetSequence(ctx context.Context, r Runner, table, column string) error {
	quotedTable, err := s.QuoteIdentifier(table)
	if err != nil {
		return err
	}
	quotedColumn, err := s.QuoteIdentifier(column)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(
		"select setval(pg_get_serial_sequence(?, ?), coalesce(max(%s), 0) + 1, false) from %s",
		quotedColumn, quotedTable)
	rows, err := r.QueryContext(ctx, stmt, table, column)
	if err != nil {
		return fmt.Errorf("failed to reset sequence on %s.%s: %w", table, column, err)
	}
	return rows.Close()
}

func (s *postgresStrategy) GetPrimaryKeys(ctx context.Context, r Runner, table string) ([]string, error) {
	return s.cachedList(ctx, r, table, "primary_keys", func() ([]string, error) {
		query := `
select a.attname
from pg_index i
join pg_attribute a on a.attrelid = i.indrelid and a.attnum = any(i.indkey)
where i.indrelid = ?::regclass and i.indisprimary
order by array_position(i.indkey, a.attnum)`
		return queryStrings(ctx, r, query, table)
	})
}

func (s *postgresStrategy) GetColumns(ctx context.Context, r Runner, table string) ([]string, error) {
	return s.cachedList(ctx, r, table, "columns", func() ([]string, error) {
		query := `
select column_name
from information_schema.columns
where table_name = ?
order by ordinal_position`
		return queryStrings(ctx, r, query, table)
	})
}

func (s *postgresStrategy) GetSequenceColumns(ctx context.Context, r Runner, table string) ([]string, error) {
	return s.cachedList(ctx, r, table, "sequence_columns", func() ([]string, error) {
		query := `
select column_name
from information_schema.columns
where table_name = ? and column_default like 'nextval%'`
		return queryStrings(ctx, r, query, table)
	})
}

// GetConstraintDefinition читает определение уникального индекса из
// pg_indexes и извлекает из него conflict-target: список колонок в
// скобках плюс WHERE-предикат частичного индекса, если он задан.
// Неразбираемое определение - ошибка, некорректный target не строится.
func (s *postgresStrategy) GetConstraintDefinition(ctx context.Context, r Runner, table, constraint string) (string, error) {
	defs, err := queryStrings(ctx, r,
		"select indexdef from pg_indexes where tablename = ? and indexname = ?",
		table, constraint)
	if err != nil {
		return "", fmt.Errorf("failed to read index definition for %s: %w", constraint, err)
	}
	if len(defs) == 0 {
		return "", fmt.Errorf("constraint %q not found on table %q", constraint, table)
	}
	return parseIndexDefinition(defs[0], constraint)
}

// parseIndexDefinition извлекает '(columns) [WHERE predicate]' из
// текста CREATE [UNIQUE] INDEX.
func parseIndexDefinition(def, constraint string) (string, error) {
	open := strings.IndexByte(def, '(')
	if open < 0 {
		return "", fmt.Errorf("unparsable index definition for %q: %s", constraint, def)
	}
	depth := 0
	end := -1
	for i := open; i < len(def); i++ {
		switch def[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return "", fmt.Errorf("unparsable index definition for %q: %s", constraint, def)
	}
	target := def[open : end+1]

	rest := def[end+1:]
	if idx := strings.Index(strings.ToUpper(rest), "WHERE"); idx >= 0 {
		target += " WHERE " + strings.TrimSpace(rest[idx+len("WHERE"):])
	}
	return target, nil
}

func (s *postgresStrategy) ConfigureConnection(ctx context.Context, r Runner) error {
	// autocommit включен по умолчанию на уровне обертки соединения
	return nil
}

func (s *postgresStrategy) QuoteIdentifier(name string) (string, error) {
	return sqlutil.QuoteIdentifier(name, sqlutil.Postgres)
}

func (s *postgresStrategy) ParamLimit() int {
	return sqlutil.ParamLimit(sqlutil.Postgres)
}
