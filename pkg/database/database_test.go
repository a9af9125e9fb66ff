package database

import (
	"context"
	"strings"
	"testing"
)

// newSQLiteConn открывает соединение с in-memory базой SQLite
func newSQLiteConn(t *testing.T) *Connection {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dialect = "sqlite"
	cfg.Database = ":memory:"

	c, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustExec(t *testing.T, c *Connection, query string, args ...any) {
	t.Helper()
	if _, err := c.Execute(context.Background(), query, args...); err != nil {
		t.Fatalf("Execute(%s) error: %v", query, err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table users (id integer primary key, name text, balance real)")

	n, err := c.InsertRows(ctx, "users", []map[string]any{
		{"id": 1, "name": "alice", "balance": 10.5},
		{"id": 2, "name": "bob", "balance": 0.0},
		{"id": 3, "name": "carol", "balance": -3.25},
	})
	if err != nil {
		t.Fatalf("InsertRows() error: %v", err)
	}
	if n != 3 {
		t.Errorf("InsertRows() = %d, want 3", n)
	}

	rows, err := c.Select(ctx, "select id, name, balance from users order by id")
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Select() returned %d rows, want 3", len(rows))
	}
	if rows[0]["id"] != int64(1) || rows[0]["name"] != "alice" || rows[0]["balance"] != 10.5 {
		t.Errorf("first row = %v", rows[0])
	}

	count, err := c.SelectScalar(ctx, "select count(*) from users")
	if err != nil {
		t.Fatalf("SelectScalar() error: %v", err)
	}
	if count != int64(3) {
		t.Errorf("SelectScalar() = %v, want 3", count)
	}
}

func TestSQLiteUpsertInsertAndUpdate(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table accounts (id integer primary key, name text, email text)")

	// первый вызов вставляет, ключи определяются по первичному ключу
	if _, err := c.Upsert(ctx, "accounts", []map[string]any{
		{"id": 1, "name": "alice", "email": "a@x"},
	}, UpsertOptions{UpdateAlways: []string{"name", "email"}}); err != nil {
		t.Fatalf("Upsert() insert error: %v", err)
	}

	// повторный вызов по тому же ключу обновляет, а не дублирует
	if _, err := c.Upsert(ctx, "accounts", []map[string]any{
		{"id": 1, "name": "alice smith", "email": "a2@x"},
	}, UpsertOptions{UpdateAlways: []string{"name", "email"}}); err != nil {
		t.Fatalf("Upsert() update error: %v", err)
	}

	row, err := c.SelectRow(ctx, "select id, name, email from accounts")
	if err != nil {
		t.Fatalf("SelectRow() error: %v", err)
	}
	if row["id"] != int64(1) || row["name"] != "alice smith" || row["email"] != "a2@x" {
		t.Errorf("row after upsert = %v", row)
	}
}

func TestSQLiteUpsertNullPreservation(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table contacts (id integer primary key, phone text, note text)")
	mustExec(t, c, "insert into contacts (id, phone, note) values (?, ?, ?)", 1, "555-1234", "vip")

	// NULL на входе сохраняет хранимое значение для update_ifnull
	if _, err := c.Upsert(ctx, "contacts", []map[string]any{
		{"id": 1, "phone": nil, "note": nil},
	}, UpsertOptions{
		KeyColumns:   []string{"id"},
		UpdateIfNull: []string{"phone"},
		UpdateAlways: []string{"note"},
	}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	row, err := c.SelectRow(ctx, "select phone, note from contacts where id = ?", 1)
	if err != nil {
		t.Fatalf("SelectRow() error: %v", err)
	}
	if row["phone"] != "555-1234" {
		t.Errorf("update_ifnull column should keep the stored value, got %v", row["phone"])
	}
	if row["note"] != nil {
		t.Errorf("update_always column should be overwritten with NULL, got %v", row["note"])
	}
}

func TestSQLiteUpsertDoNothing(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table codes (code text primary key, label text)")
	mustExec(t, c, "insert into codes (code, label) values (?, ?)", "A", "original")

	// без обновляемых колонок конфликтующая строка не трогается
	if _, err := c.Upsert(ctx, "codes", []map[string]any{
		{"code": "A", "label": "changed"},
		{"code": "B", "label": "new"},
	}, UpsertOptions{KeyColumns: []string{"code"}}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	rows, err := c.Select(ctx, "select code, label from codes order by code")
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Select() returned %d rows, want 2", len(rows))
	}
	if rows[0]["label"] != "original" {
		t.Errorf("conflicting row must stay untouched, got %v", rows[0]["label"])
	}
	if rows[1]["label"] != "new" {
		t.Errorf("new row must be inserted, got %v", rows[1]["label"])
	}
}

func TestSQLiteUpsertMissingKeyColumn(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table events (tenant text, id integer, payload text, primary key (tenant, id))")

	// строка без одной из явно заданных ключевых колонок не должна
	// молча схлопывать conflict-target до оставшихся ключей
	_, err := c.Upsert(ctx, "events", []map[string]any{
		{"id": 1, "payload": "x"},
	}, UpsertOptions{
		KeyColumns:   []string{"tenant", "id"},
		UpdateAlways: []string{"payload"},
	})
	if !IsValidationError(err) {
		t.Fatalf("Upsert() with a missing key column must fail validation, got %v", err)
	}
	if !strings.Contains(err.Error(), "tenant") {
		t.Errorf("error must name the missing key column, got %q", err.Error())
	}
}

func TestSQLiteTransactionRollback(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table events (id integer primary key, kind text)")

	err := c.Transaction(ctx, func(tx *Tx) error {
		if _, err := tx.Execute(ctx, "insert into events (id, kind) values (?, ?)", 1, "created"); err != nil {
			return err
		}
		// провоцируем откат ошибкой нарушения уникальности
		_, err := tx.Execute(ctx, "insert into events (id, kind) values (?, ?)", 1, "duplicate")
		return err
	})
	if err == nil {
		t.Fatal("Transaction() should fail on the duplicate insert")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("error should classify as unique violation, got %v", err)
	}

	count, err := c.SelectScalar(ctx, "select count(*) from events")
	if err != nil {
		t.Fatalf("SelectScalar() error: %v", err)
	}
	if count != int64(0) {
		t.Errorf("rollback should remove all scope work, count = %v", count)
	}
	if !c.Autocommit() {
		t.Error("autocommit should be restored after rollback")
	}
}

func TestSQLiteInClause(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table nums (n integer primary key)")
	for i := 1; i <= 5; i++ {
		mustExec(t, c, "insert into nums (n) values (?)", i)
	}

	rows, err := c.Select(ctx, "select n from nums where n in ? order by n", []int{2, 4})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(rows) != 2 || rows[0]["n"] != int64(2) || rows[1]["n"] != int64(4) {
		t.Errorf("Select() = %v", rows)
	}

	// пустая коллекция законна и не возвращает строк
	empty, err := c.Select(ctx, "select n from nums where n in ?", []int{})
	if err != nil {
		t.Fatalf("Select() with empty collection error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty IN collection should match nothing, got %v", empty)
	}
}

func TestSQLiteNullComparisonFolding(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table items (id integer primary key, tag text)")
	mustExec(t, c, "insert into items (id, tag) values (?, ?)", 1, nil)
	mustExec(t, c, "insert into items (id, tag) values (?, ?)", 2, "x")

	rows, err := c.Select(ctx, "select id from items where tag is ?", nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != int64(1) {
		t.Errorf("IS NULL folding: rows = %v", rows)
	}

	rows, err = c.Select(ctx, "select id from items where tag is not ?", nil)
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != int64(2) {
		t.Errorf("IS NOT NULL folding: rows = %v", rows)
	}
}

func TestSQLiteSelectChunked(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table seq (n integer primary key)")
	for i := 1; i <= 10; i++ {
		mustExec(t, c, "insert into seq (n) values (?)", i)
	}

	var sizes []int
	var total int
	err := c.SelectChunked(ctx, "select n from seq order by n", nil, 4, func(rs *ResultSet) error {
		sizes = append(sizes, len(rs.Rows))
		total += len(rs.Rows)
		return nil
	})
	if err != nil {
		t.Fatalf("SelectChunked() error: %v", err)
	}
	if total != 10 {
		t.Errorf("chunked iteration saw %d rows, want 10", total)
	}
	if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Errorf("chunk sizes = %v, want [4 4 2]", sizes)
	}
}

func TestSQLiteInsertIdentity(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table notes (id integer primary key, body text)")

	id, err := c.InsertIdentity(ctx, "notes", map[string]any{"body": "first"})
	if err != nil {
		t.Fatalf("InsertIdentity() error: %v", err)
	}
	if id != 1 {
		t.Errorf("InsertIdentity() = %d, want 1", id)
	}

	seqCol, err := c.FindSequenceColumn(ctx, "notes")
	if err != nil {
		t.Fatalf("FindSequenceColumn() error: %v", err)
	}
	if seqCol != "id" {
		t.Errorf("FindSequenceColumn() = %q, want id", seqCol)
	}
}

func TestSQLiteIntrospectionAndCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table docs (id integer primary key, title text)")

	cols, err := c.GetColumns(ctx, "docs")
	if err != nil {
		t.Fatalf("GetColumns() error: %v", err)
	}
	if len(cols) != 2 || cols[0] != "id" || cols[1] != "title" {
		t.Errorf("GetColumns() = %v", cols)
	}

	pks, err := c.GetPrimaryKeys(ctx, "docs")
	if err != nil {
		t.Fatalf("GetPrimaryKeys() error: %v", err)
	}
	if len(pks) != 1 || pks[0] != "id" {
		t.Errorf("GetPrimaryKeys() = %v", pks)
	}

	mustExec(t, c, "alter table docs add column author text")

	// кэш еще держит прежний список
	cols, err = c.GetColumns(ctx, "docs")
	if err != nil {
		t.Fatalf("GetColumns() error: %v", err)
	}
	if len(cols) != 2 {
		t.Errorf("cached GetColumns() = %v, want the pre-alter list", cols)
	}

	c.InvalidateSchemaCache(ctx, "docs")
	cols, err = c.GetColumns(ctx, "docs")
	if err != nil {
		t.Fatalf("GetColumns() error: %v", err)
	}
	if len(cols) != 3 || cols[2] != "author" {
		t.Errorf("GetColumns() after invalidation = %v", cols)
	}
}

func TestSQLiteFilterTableColumns(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table people (id integer primary key, Name text)")

	filtered, err := c.FilterTableColumns(ctx, "people", []map[string]any{
		{"ID": 1, "name": "alice", "ghost": true},
	})
	if err != nil {
		t.Fatalf("FilterTableColumns() error: %v", err)
	}
	row := filtered[0]
	if _, ok := row["ghost"]; ok {
		t.Error("unknown column should be dropped")
	}
	if row["id"] != 1 {
		t.Errorf("id should be remapped to table casing, row = %v", row)
	}
	if row["Name"] != "alice" {
		t.Errorf("Name should be remapped to table casing, row = %v", row)
	}
}

func TestSQLiteUpdateRow(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table stock (sku text primary key, qty integer)")
	mustExec(t, c, "insert into stock (sku, qty) values (?, ?)", "W1", 5)

	n, err := c.UpdateRow(ctx, "stock", []string{"sku"}, []any{"W1"}, []string{"qty"}, []any{9})
	if err != nil {
		t.Fatalf("UpdateRow() error: %v", err)
	}
	if n != 1 {
		t.Errorf("UpdateRow() = %d, want 1", n)
	}

	qty, err := c.SelectScalar(ctx, "select qty from stock where sku = ?", "W1")
	if err != nil {
		t.Fatalf("SelectScalar() error: %v", err)
	}
	if qty != int64(9) {
		t.Errorf("qty = %v, want 9", qty)
	}

	if _, err := c.UpdateRow(ctx, "stock", []string{"sku"}, []any{"W1"}, []string{"sku"}, []any{"W2"}); !IsValidationError(err) {
		t.Errorf("overlapping key and data fields should be rejected, got %v", err)
	}
}

func TestSQLiteUpdateOrInsert(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table kv (k text primary key, v text)")

	// первая запись идет через insert-ветку
	n, err := c.UpdateOrInsert(ctx,
		"update kv set v = ? where k = ?",
		"insert into kv (v, k) values (?, ?)",
		"one", "a")
	if err != nil {
		t.Fatalf("UpdateOrInsert() error: %v", err)
	}
	if n != 1 {
		t.Errorf("UpdateOrInsert() = %d, want 1", n)
	}

	// вторая запись по тому же ключу идет через update-ветку
	if _, err := c.UpdateOrInsert(ctx,
		"update kv set v = ? where k = ?",
		"insert into kv (v, k) values (?, ?)",
		"two", "a"); err != nil {
		t.Fatalf("UpdateOrInsert() error: %v", err)
	}

	v, err := c.SelectScalar(ctx, "select v from kv where k = ?", "a")
	if err != nil {
		t.Fatalf("SelectScalar() error: %v", err)
	}
	if v != "two" {
		t.Errorf("v = %v, want two", v)
	}
}

func TestSQLiteMaintenance(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteConn(t)
	mustExec(t, c, "create table archive (id integer primary key, payload text)")
	mustExec(t, c, "insert into archive (id, payload) values (?, ?)", 1, "x")

	if err := c.VacuumTable(ctx, "archive"); err != nil {
		t.Errorf("VacuumTable() error: %v", err)
	}
	if err := c.ReindexTable(ctx, "archive"); err != nil {
		t.Errorf("ReindexTable() error: %v", err)
	}
	// сброс последовательности в SQLite - no-op без ошибки
	if err := c.ResetSequence(ctx, "archive", "id"); err != nil {
		t.Errorf("ResetSequence() error: %v", err)
	}

	calls, elapsed := c.Stats()
	if calls == 0 || elapsed < 0 {
		t.Errorf("Stats() = %d, %v", calls, elapsed)
	}
}
