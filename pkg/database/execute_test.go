package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/bissli/database-sub001/pkg/sqlutil"
)

func TestQueryRetriesUnnamedColumnRepair(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConn(t, "sqlserver")

	mock.ExpectQuery("select count(*) from t").
		WillReturnError(errors.New("mssql: SELECT statements produced columns with no names"))
	mock.ExpectQuery("select COUNT(*) AS count_col from t").
		WillReturnRows(sqlmock.NewRows([]string{"count_col"}).AddRow(int64(42)))

	rows, err := c.Select(ctx, "select count(*) from t")
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(rows) != 1 || rows[0]["count_col"] != int64(42) {
		t.Errorf("Select() = %v, want one row with count_col=42", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecRepairRetriesOnlyOnce(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConn(t, "sqlserver")

	// запрос, который нечем чинить, падает без повтора
	mock.ExpectQuery("select bogus from t").
		WillReturnError(errors.New("mssql: invalid column name 'bogus'"))

	if _, err := c.Select(ctx, "select bogus from t"); err == nil {
		t.Fatal("Select() should fail when the repair changes nothing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecuteReturningIDSQLite(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConn(t, "sqlite")

	mock.ExpectExec("insert into t (v) values (?)").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(15, 1))

	id, err := c.ExecuteReturningID(ctx, "insert into t (v) values (?)", 7)
	if err != nil {
		t.Fatalf("ExecuteReturningID() error: %v", err)
	}
	if id != 15 {
		t.Errorf("ExecuteReturningID() = %d, want 15", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecuteReturningIDSQLServerAppendsIdentity(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConn(t, "sqlserver")

	mock.ExpectQuery("insert into t (v) values (?); select @@identity as id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(21)))

	id, err := c.ExecuteReturningID(ctx, "insert into t (v) values (?)", 7)
	if err != nil {
		t.Fatalf("ExecuteReturningID() error: %v", err)
	}
	if id != 21 {
		t.Errorf("ExecuteReturningID() = %d, want 21", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecuteReturningIDPostgresRequiresReturning(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConn(t, "postgres")

	if _, err := c.ExecuteReturningID(ctx, "insert into t (v) values (?)", 7); !IsValidationError(err) {
		t.Errorf("statement without RETURNING should be rejected, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSelectRowCardinality(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConn(t, "sqlite")

	mock.ExpectQuery("select id from t").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	if _, err := c.SelectRow(ctx, "select id from t"); !IsValidationError(err) {
		t.Errorf("SelectRow() with two rows should be a validation error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSelectScalarAndColumn(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConn(t, "sqlite")

	mock.ExpectQuery("select name from users where id = ?").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("alice"))
	mock.ExpectQuery("select name from users").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("alice").AddRow("bob"))

	v, err := c.SelectScalar(ctx, "select name from users where id = ?", 1)
	if err != nil {
		t.Fatalf("SelectScalar() error: %v", err)
	}
	if v != "alice" {
		t.Errorf("SelectScalar() = %v, want alice", v)
	}

	col, err := c.SelectColumn(ctx, "select name from users")
	if err != nil {
		t.Fatalf("SelectColumn() error: %v", err)
	}
	if len(col) != 2 || col[0] != "alice" || col[1] != "bob" {
		t.Errorf("SelectColumn() = %v", col)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPlaceholderStandardizationForPostgres(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConn(t, "postgres")

	// вопросительные плейсхолдеры переводятся в нумерованные
	mock.ExpectExec("update t set v = $1 where id = $2").
		WithArgs(int64(3), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := c.Execute(ctx, "update t set v = ? where id = ?", 3, 4); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInClauseExpansionThroughConnection(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConn(t, "sqlite")

	mock.ExpectQuery("select id from t where id in (?, ?, ?)").
		WithArgs(int64(1), int64(2), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)))

	rows, err := c.Select(ctx, "select id from t where id in ?", []int{1, 2, 3})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("Select() returned %d rows, want 3", len(rows))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestInsertRowsBatching проверяет разбиение вставки на несколько
// statements по лимиту параметров диалекта
func TestInsertRowsBatching(t *testing.T) {
	ctx := context.Background()
	c, mock := newMockConn(t, "sqlite")

	// 400 колонок при лимите 999 дают 2 строки на statement,
	// 5 строк лягут в батчи 2 + 2 + 1
	columns := make([]string, 400)
	meta := sqlmock.NewRows([]string{"name"})
	for i := range columns {
		columns[i] = fmt.Sprintf("c%d", i+1)
		meta.AddRow(columns[i])
	}
	mock.ExpectQuery("select name from pragma_table_info(?) order by cid").
		WithArgs("wide").
		WillReturnRows(meta)

	pair, err := buildInsert(sqlutil.SQLite, "wide", columns, 2)
	if err != nil {
		t.Fatalf("buildInsert() error: %v", err)
	}
	single, err := buildInsert(sqlutil.SQLite, "wide", columns, 1)
	if err != nil {
		t.Fatalf("buildInsert() error: %v", err)
	}
	mock.ExpectExec(pair).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(pair).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(single).WillReturnResult(sqlmock.NewResult(0, 1))

	rows := make([]map[string]any, 5)
	for i := range rows {
		row := make(map[string]any, len(columns))
		for _, col := range columns {
			row[col] = i
		}
		rows[i] = row
	}

	n, err := c.InsertRows(ctx, "wide", rows)
	if err != nil {
		t.Fatalf("InsertRows() error: %v", err)
	}
	if n != 5 {
		t.Errorf("InsertRows() = %d, want 5", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{"int64", int64(5), 5, false},
		{"int32", int32(6), 6, false},
		{"int", 7, 7, false},
		{"float64", float64(8), 8, false},
		{"bytes", []byte("9"), 9, false},
		{"string", " 10 ", 10, false},
		{"nil", nil, 0, true},
		{"garbage", "abc", 0, true},
		{"unexpected type", struct{}{}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toInt64(tt.in)
			if tt.wantErr {
				if !IsValidationError(err) {
					t.Errorf("toInt64(%v) error = %v, want validation error", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("toInt64(%v) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("toInt64(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
