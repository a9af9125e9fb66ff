package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/jackc/pgx/v5/pgconn"
	sqlite "modernc.org/sqlite"

	"github.com/bissli/database-sub001/pkg/sqlutil"
)

// Kind - класс ошибки, независимый от драйвера. Вызывающий код ловит
// класс, а не конкретный тип драйвера.
type Kind string

const (
	// KindConnection - сетевые сбои, auth, таймауты
	KindConnection Kind = "connection"
	// KindQuery - синтаксические и программные ошибки SQL
	KindQuery Kind = "query"
	// KindIntegrityViolation - нарушение ограничений (unique, FK, check)
	KindIntegrityViolation Kind = "integrity_violation"
	// KindUniqueViolation - подтип нарушения уникальности
	KindUniqueViolation Kind = "unique_violation"
	// KindTypeConversion - значение не биндится без потерь
	KindTypeConversion Kind = "type_conversion"
	// KindValidation - аргументы вызова нарушают документированный контракт
	KindValidation Kind = "validation"
)

// Error - классифицированная ошибка уровня доступа к данным
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf возвращает класс ошибки или пустую строку для неклассифицированных
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsConnectionError сообщает, относится ли ошибка к классу соединения
func IsConnectionError(err error) bool {
	return KindOf(err) == KindConnection
}

// IsUniqueViolation сообщает о нарушении уникальности
func IsUniqueViolation(err error) bool {
	return KindOf(err) == KindUniqueViolation
}

// IsIntegrityViolation сообщает о нарушении ограничения, включая
// уникальность
func IsIntegrityViolation(err error) bool {
	k := KindOf(err)
	return k == KindIntegrityViolation || k == KindUniqueViolation
}

// IsValidationError сообщает о нарушении контракта вызова
func IsValidationError(err error) bool {
	return KindOf(err) == KindValidation
}

func validationError(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Classify оборачивает ошибку драйвера в класс таксономии. Уже
// классифицированные ошибки проходят без изменений.
func Classify(d sqlutil.Dialect, op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Kind: classifyKind(d, err), Op: op, Err: err}
}

func classifyKind(d sqlutil.Dialect, err error) Kind {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return KindConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnection
	}

	switch d {
	case sqlutil.Postgres:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return classifySQLState(pgErr.Code)
		}
	case sqlutil.SQLServer:
		var msErr mssql.Error
		if errors.As(err, &msErr) {
			return classifyMSSQLNumber(msErr.Number)
		}
	case sqlutil.SQLite:
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) {
			return classifySQLiteCode(liteErr.Code())
		}
	}

	if strings.Contains(strings.ToLower(err.Error()), "connection") {
		return KindConnection
	}
	return KindQuery
}

// классификация PostgreSQL по SQLSTATE
func classifySQLState(code string) Kind {
	switch {
	case code == "23505":
		return KindUniqueViolation
	case strings.HasPrefix(code, "23"):
		return KindIntegrityViolation
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57"):
		return KindConnection
	case strings.HasPrefix(code, "22"):
		return KindTypeConversion
	default:
		return KindQuery
	}
}

// классификация SQL Server по номеру ошибки
func classifyMSSQLNumber(number int32) Kind {
	switch number {
	case 2627, 2601: // duplicate key
		return KindUniqueViolation
	case 547: // FK/check constraint
		return KindIntegrityViolation
	case 4060, 18456, 10054, 10060, 233: // login/network
		return KindConnection
	default:
		return KindQuery
	}
}

// классификация SQLite по коду результата
func classifySQLiteCode(code int) Kind {
	switch code {
	case 1555, 2067: // constraint primary key / unique
		return KindUniqueViolation
	case 5, 6: // busy / locked
		return KindConnection
	}
	if code&0xff == 19 { // constraint family
		return KindIntegrityViolation
	}
	return KindQuery
}
