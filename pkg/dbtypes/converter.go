package dbtypes

import (
	"database/sql"
	"math"
	"reflect"
	"strings"
	"time"
)

// строковые сентинелы отсутствующего значения при разборе текстовых данных
var nullSentinels = map[string]bool{
	"null": true,
	"nan":  true,
	"none": true,
	"na":   true,
	"nat":  true,
}

// IsNullSentinel сообщает, обозначает ли текст отсутствующее значение
func IsNullSentinel(s string) bool {
	return nullSentinels[strings.ToLower(strings.TrimSpace(s))]
}

// ConvertTextValue приводит текстовое значение к nil, если оно является
// сентинелом отсутствия, иначе возвращает его без изменений.
func ConvertTextValue(s string) any {
	if IsNullSentinel(s) {
		return nil
	}
	return s
}

// ConvertValue нормализует одно значение параметра перед передачей
// драйверу:
//   - NaN любой ширины float превращается в nil (NULL); ±Inf остаются
//     как есть;
//   - целые любой ширины приводятся к int64;
//   - sql.Null* разворачиваются в значение или nil;
//   - коллекции конвертируются поэлементно с сохранением вида контейнера;
//   - нераспознанные типы проходят без изменений, функция никогда не
//     возвращает ошибку.
func ConvertValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(x) {
			return nil
		}
		return x
	case float32:
		f := float64(x)
		if math.IsNaN(f) {
			return nil
		}
		return f
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return x
		}
		return int64(x)
	case bool, string, []byte, time.Time:
		return x
	case sql.NullString:
		if !x.Valid {
			return nil
		}
		return x.String
	case sql.NullInt64:
		if !x.Valid {
			return nil
		}
		return x.Int64
	case sql.NullInt32:
		if !x.Valid {
			return nil
		}
		return int64(x.Int32)
	case sql.NullFloat64:
		if !x.Valid {
			return nil
		}
		return ConvertValue(x.Float64)
	case sql.NullBool:
		if !x.Valid {
			return nil
		}
		return x.Bool
	case sql.NullTime:
		if !x.Valid {
			return nil
		}
		return x.Time
	}
	return convertReflected(v)
}

// convertReflected обрабатывает контейнеры и именованные типы поверх
// базовых kind'ов.
func convertReflected(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = ConvertValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			out[reflect.ValueOf(key.Interface()).String()] = ConvertValue(rv.MapIndex(key).Interface())
		}
		return out
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) {
			return nil
		}
		return f
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return ConvertValue(rv.Elem().Interface())
	}
	return v
}

// ConvertParams нормализует срез параметров поэлементно
func ConvertParams(args []any) []any {
	if len(args) == 0 {
		return args
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = ConvertValue(a)
	}
	return out
}
