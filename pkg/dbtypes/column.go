package dbtypes

import (
	"database/sql"

	"github.com/bissli/database-sub001/pkg/sqlutil"
)

// Column - метаданные колонки результата: имя, нативный код типа,
// разрешенный семантический тип, nullability и порядковый номер.
// Живет один результат запроса, значений не несет.
type Column struct {
	Name     string
	TypeName string
	Kind     Kind
	Nullable bool
	Position int
}

// ColumnsFromTypes строит описание колонок из метаданных database/sql
func ColumnsFromTypes(d sqlutil.Dialect, types []*sql.ColumnType) []Column {
	cols := make([]Column, len(types))
	for i, ct := range types {
		nullable, _ := ct.Nullable()
		cols[i] = Column{
			Name:     ct.Name(),
			TypeName: ct.DatabaseTypeName(),
			Kind:     Resolve(d, ct.DatabaseTypeName(), ct.Name()),
			Nullable: nullable,
			Position: i,
		}
	}
	return cols
}

// Names возвращает имена колонок в порядке следования
func Names(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
