package sqlutil

import (
	"errors"
	"strings"
	"testing"
)

func TestIsUnnamedColumnError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("mssql: The column 'x' was specified multiple times... columns with no names"), true},
		{errors.New("Invalid column name 'foo'"), true},
		{errors.New("The column name or number of supplied values does not match"), true},
		{errors.New("syntax error near 'from'"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsUnnamedColumnError(c.err); got != c.want {
			t.Errorf("IsUnnamedColumnError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

// TestRepairUnnamedColumns проверяет переписывание известных
// безымянных выражений с признаком повтора
func TestRepairUnnamedColumns(t *testing.T) {
	tests := []struct {
		query   string
		want    string
		changed bool
	}{
		{
			query:   "SELECT COUNT(*) FROM t",
			want:    "SELECT COUNT(*) AS count_col FROM t",
			changed: true,
		},
		{
			query:   "select @@identity",
			want:    "select @@identity AS id_col",
			changed: true,
		},
		{
			query:   "SELECT 1 FROM t WHERE x = 2",
			want:    "SELECT 1 AS result_col FROM t WHERE x = 2",
			changed: true,
		},
		{
			query:   "select @@identity as id",
			want:    "select @@identity as id",
			changed: false,
		},
		{
			query:   "select count(*) as cnt from t",
			want:    "select count(*) as cnt from t",
			changed: false,
		},
		{
			query:   "select name from t",
			want:    "select name from t",
			changed: false,
		},
		{
			query:   "select name, sum(total) from orders group by name",
			want:    "select name, sum(total) AS [sum_result] from orders group by name",
			changed: true,
		},
		{
			query:   "select a + b, qty from t",
			want:    "select a + b AS [calc_result], qty from t",
			changed: true,
		},
		{
			query:   "select case when a then 1 else 0 end, b from t",
			want:    "select case when a then 1 else 0 end AS [case_result], b from t",
			changed: true,
		},
		{
			query:   "select distinct name, max(ts) from t",
			want:    "select distinct name, max(ts) AS [max_result] from t",
			changed: true,
		},
		{
			query:   "select (select max(id) from audit), name from t",
			want:    "select (select max(id) from audit) AS [subquery_result], name from t",
			changed: true,
		},
		{
			query:   "select name, sum(total) as total from orders group by name",
			want:    "select name, sum(total) as total from orders group by name",
			changed: false,
		},
		{
			query:   "select sum(total) into #tmp from orders",
			want:    "select sum(total) into #tmp from orders",
			changed: false,
		},
	}
	for _, tt := range tests {
		got, changed := RepairUnnamedColumns(tt.query)
		if got != tt.want || changed != tt.changed {
			t.Errorf("RepairUnnamedColumns(%q) = %q, %v; want %q, %v", tt.query, got, changed, tt.want, tt.changed)
		}
	}
}

// TestRepairUnnamedColumnsHashAlias проверяет хэш-алиас для выражения
// нераспознанной формы
func TestRepairUnnamedColumnsHashAlias(t *testing.T) {
	query := "select name, dbo.fn_rate(x) from t"
	got, changed := RepairUnnamedColumns(query)
	want := "select name, dbo.fn_rate(x) AS [" + GenerateExpressionAlias("dbo.fn_rate(x)") + "] from t"
	if !changed || got != want {
		t.Errorf("RepairUnnamedColumns(%q) = %q, %v; want %q, true", query, got, changed, want)
	}
}

func TestGenerateExpressionAlias(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"COUNT(*)", "count_result"},
		{"SUM(amount)", "sum_result"},
		{"MAX(created)", "max_result"},
		{"CAST(x AS int)", "cast_result"},
		{"CASE WHEN a THEN 1 ELSE 0 END", "case_result"},
		{"(SELECT max(id) FROM t)", "subquery_result"},
		{"a + b", "calc_result"},
	}
	for _, tt := range tests {
		if got := GenerateExpressionAlias(tt.expr); got != tt.want {
			t.Errorf("GenerateExpressionAlias(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}
}

func TestGenerateExpressionAliasHashFallback(t *testing.T) {
	alias := GenerateExpressionAlias("some_udf_without_known_shape")
	if !strings.HasPrefix(alias, "expr_") || len(alias) != len("expr_")+8 {
		t.Errorf("expected deterministic hash alias, got %q", alias)
	}
	// детерминированность
	if alias != GenerateExpressionAlias("some_udf_without_known_shape") {
		t.Error("hash alias is not deterministic")
	}
}
