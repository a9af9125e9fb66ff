package dbtypes

import (
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/bissli/database-sub001/pkg/sqlutil"
)

// Kind - нормализованный семантический тип колонки
type Kind string

const (
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindDecimal  Kind = "decimal"
	KindBool     Kind = "bool"
	KindString   Kind = "string"
	KindBytes    Kind = "bytes"
	KindDate     Kind = "date"
	KindTime     Kind = "time"
	KindDateTime Kind = "datetime"
	KindInterval Kind = "interval"
	KindUUID     Kind = "uuid"
	KindJSON     Kind = "json"
)

// Numeric сообщает, требует ли тип числового приведения при
// материализации строк.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat || k == KindDecimal
}

// ResolveOID возвращает семантический тип для PostgreSQL OID
func ResolveOID(oid uint32) (Kind, bool) {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID, pgtype.OIDOID:
		return KindInt, true
	case pgtype.Float4OID, pgtype.Float8OID:
		return KindFloat, true
	case pgtype.NumericOID:
		return KindDecimal, true
	case pgtype.BoolOID:
		return KindBool, true
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID:
		return KindString, true
	case pgtype.ByteaOID:
		return KindBytes, true
	case pgtype.DateOID:
		return KindDate, true
	case pgtype.TimeOID, pgtype.TimetzOID:
		return KindTime, true
	case pgtype.TimestampOID, pgtype.TimestamptzOID:
		return KindDateTime, true
	case pgtype.IntervalOID:
		return KindInterval, true
	case pgtype.UUIDOID:
		return KindUUID, true
	case pgtype.JSONOID, pgtype.JSONBOID:
		return KindJSON, true
	}
	return KindString, false
}

// типовые имена, какими их отдают драйверы всех трех диалектов
var typeNameKinds = map[string]Kind{
	"int":              KindInt,
	"integer":          KindInt,
	"int2":             KindInt,
	"int4":             KindInt,
	"int8":             KindInt,
	"smallint":         KindInt,
	"bigint":           KindInt,
	"tinyint":          KindInt,
	"serial":           KindInt,
	"bigserial":        KindInt,
	"float":            KindFloat,
	"float4":           KindFloat,
	"float8":           KindFloat,
	"real":             KindFloat,
	"double":           KindFloat,
	"double precision": KindFloat,
	"numeric":          KindDecimal,
	"decimal":          KindDecimal,
	"money":            KindDecimal,
	"bool":             KindBool,
	"boolean":          KindBool,
	"bit":              KindBool,
	"text":             KindString,
	"varchar":          KindString,
	"nvarchar":         KindString,
	"char":             KindString,
	"nchar":            KindString,
	"bpchar":           KindString,
	"clob":             KindString,
	"blob":             KindBytes,
	"bytea":            KindBytes,
	"binary":           KindBytes,
	"varbinary":        KindBytes,
	"date":             KindDate,
	"time":             KindTime,
	"timetz":           KindTime,
	"timestamp":        KindDateTime,
	"timestamptz":      KindDateTime,
	"datetime":         KindDateTime,
	"datetime2":        KindDateTime,
	"smalldatetime":    KindDateTime,
	"interval":         KindInterval,
	"uuid":             KindUUID,
	"uniqueidentifier": KindUUID,
	"json":             KindJSON,
	"jsonb":            KindJSON,
}

// Resolve возвращает семантический тип колонки по коду типа драйвера
// и имени колонки. Код может быть текстовым именем типа (SQLite,
// SQL Server, stdlib-драйвер pgx) или числовым OID (PostgreSQL).
// Функция не возвращает ошибок: нераспознанный код уходит в эвристику
// по имени колонки, терминальный fallback - строка.
func Resolve(d sqlutil.Dialect, typeCode string, columnName string) Kind {
	code := strings.ToLower(strings.TrimSpace(typeCode))

	if d == sqlutil.Postgres {
		if oid, err := strconv.ParseUint(code, 10, 32); err == nil {
			if k, ok := ResolveOID(uint32(oid)); ok {
				return k
			}
			return resolveByName(columnName)
		}
	}

	if code != "" {
		if k, ok := typeNameKinds[code]; ok {
			return k
		}
		// 'varchar(255)', 'numeric(18,4)' и подобные декларации
		if idx := strings.IndexByte(code, '('); idx > 0 {
			if k, ok := typeNameKinds[strings.TrimSpace(code[:idx])]; ok {
				return k
			}
		}
	}

	return resolveByName(columnName)
}

// resolveByName - эвристика по имени колонки, в порядке приоритета
func resolveByName(columnName string) Kind {
	name := strings.ToLower(columnName)
	switch {
	case name == "id" || strings.HasSuffix(name, "_id"):
		return KindInt
	case strings.HasSuffix(name, "_at") || strings.HasSuffix(name, "_datetime"):
		return KindDateTime
	case strings.HasSuffix(name, "_date"):
		return KindDate
	case strings.HasPrefix(name, "is_") || strings.HasSuffix(name, "_flag"):
		return KindBool
	case strings.HasSuffix(name, "_amount") || strings.HasSuffix(name, "_price"):
		return KindFloat
	}
	return KindString
}
