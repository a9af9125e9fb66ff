package sqlutil

import "fmt"

// Dialect - идентификатор поддерживаемого SQL бэкенда
type Dialect string

const (
	Postgres  Dialect = "postgres"
	SQLite    Dialect = "sqlite"
	SQLServer Dialect = "sqlserver"
)

// PlaceholderStyle - стиль параметров, который драйвер принимает нативно
type PlaceholderStyle string

const (
	// StyleQuestion - позиционный '?' (SQLite, SQL Server)
	StyleQuestion PlaceholderStyle = "question"
	// StyleDollar - нумерованный '$1..$N' (PostgreSQL)
	StyleDollar PlaceholderStyle = "dollar"
	// StyleFormat - printf-стиль '%s' (драйверы с format-подстановкой)
	StyleFormat PlaceholderStyle = "format"
)

// Style возвращает нативный стиль плейсхолдеров диалекта
func (d Dialect) Style() PlaceholderStyle {
	if d == Postgres {
		return StyleDollar
	}
	return StyleQuestion
}

// Valid проверяет что диалект входит в поддерживаемый набор
func (d Dialect) Valid() bool {
	switch d {
	case Postgres, SQLite, SQLServer:
		return true
	}
	return false
}

// ParamLimit возвращает максимальное число bound-параметров на один
// statement для диалекта (протокольные лимиты драйверов).
func ParamLimit(d Dialect) int {
	switch d {
	case Postgres:
		return 65535
	case SQLite:
		return 999
	case SQLServer:
		return 2100
	default:
		return 999
	}
}

// QuoteIdentifier экранирует идентификатор для диалекта.
// PostgreSQL/SQLite: двойные кавычки, внутренние кавычки удваиваются.
// SQL Server: квадратные скобки, внутренняя ']' удваивается.
// Неизвестный диалект - ошибка, небезопасный SQL не генерируется.
func QuoteIdentifier(name string, d Dialect) (string, error) {
	switch d {
	case Postgres, SQLite:
		quoted := ""
		for _, r := range name {
			if r == '"' {
				quoted += `""`
			} else {
				quoted += string(r)
			}
		}
		return `"` + quoted + `"`, nil
	case SQLServer:
		quoted := ""
		for _, r := range name {
			if r == ']' {
				quoted += "]]"
			} else {
				quoted += string(r)
			}
		}
		return "[" + quoted + "]", nil
	default:
		return "", fmt.Errorf("cannot quote identifier %q: unknown dialect %q", name, d)
	}
}
