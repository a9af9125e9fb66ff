package sqlutil

import (
	"fmt"
	"reflect"
	"strings"
)

// skipLiteral пропускает строковый литерал или квотированный идентификатор,
// начинающийся на позиции i. Возвращает позицию сразу после закрывающей
// кавычки. Удвоенная кавычка внутри литерала считается экранированием.
func skipLiteral(s string, i int) int {
	quote := s[i]
	i++
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// placeholderOffsets возвращает байтовые позиции символов '?' вне
// строковых литералов и квотированных идентификаторов.
func placeholderOffsets(query string) []int {
	var offsets []int
	for i := 0; i < len(query); {
		switch query[i] {
		case '\'', '"':
			i = skipLiteral(query, i)
		case '[':
			// bracket-идентификаторы SQL Server, '?' внутри не параметр
			end := strings.IndexByte(query[i:], ']')
			if end < 0 {
				return offsets
			}
			i += end + 1
		case '?':
			offsets = append(offsets, i)
			i++
		default:
			i++
		}
	}
	return offsets
}

// HasPlaceholders сообщает, содержит ли запрос позиционные параметры
// вне строковых литералов.
func HasPlaceholders(query string) bool {
	return len(placeholderOffsets(query)) > 0
}

// StandardizePlaceholders переписывает '?'-плейсхолдеры под нативный
// стиль диалекта. PostgreSQL получает '$1..$N', остальные диалекты
// принимают '?' как есть. Текст внутри литералов не трогается.
func StandardizePlaceholders(d Dialect, query string) string {
	if d.Style() != StyleDollar {
		return query
	}
	offsets := placeholderOffsets(query)
	if len(offsets) == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + len(offsets)*2)
	prev := 0
	for n, off := range offsets {
		b.WriteString(query[prev:off])
		fmt.Fprintf(&b, "$%d", n+1)
		prev = off + 1
	}
	b.WriteString(query[prev:])
	return b.String()
}

// EscapeLikeClausePlaceholders удваивает одиночные '%' внутри строковых
// литералов, чтобы литеральные wildcard-символы не читались как маркеры
// параметров у драйверов с format-подстановкой (StyleFormat). Ни один
// из встроенных диалектов такой стиль не использует, поэтому в пайплайн
// подготовки запроса функция не входит. Идемпотентна: уже удвоенные
// последовательности не трогаются.
func EscapeLikeClausePlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); {
		c := query[i]
		if c != '\'' && c != '"' {
			b.WriteByte(c)
			i++
			continue
		}
		end := skipLiteral(query, i)
		lit := query[i:end]
		for j := 0; j < len(lit); {
			if lit[j] == '%' {
				if j+1 < len(lit) && lit[j+1] == '%' {
					b.WriteString("%%")
					j += 2
					continue
				}
				b.WriteString("%%")
				j++
				continue
			}
			b.WriteByte(lit[j])
			j++
		}
		i = end
	}
	return b.String()
}

// isCollection сообщает, является ли аргумент коллекцией для IN-раскрытия.
// Байтовые срезы передаются драйверу как единое значение.
func isCollection(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// flatten разворачивает коллекцию в []any, раскрывая один уровень
// вложенных коллекций (список из одного списка значений).
func flatten(v any) []any {
	rv := reflect.ValueOf(v)
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		el := rv.Index(i).Interface()
		if isCollection(el) {
			out = append(out, flatten(el)...)
			continue
		}
		out = append(out, el)
	}
	return out
}

// precededByInKeyword проверяет, что текст s заканчивается ключевым
// словом IN как отдельным токеном.
func precededByInKeyword(s string) bool {
	s = strings.TrimRight(s, " \t\r\n")
	if len(s) < 2 {
		return false
	}
	if strings.ToLower(s[len(s)-2:]) != "in" {
		return false
	}
	if len(s) > 2 {
		prev := s[len(s)-3]
		if prev != ' ' && prev != '\t' && prev != '\n' && prev != '\r' {
			return false
		}
	}
	return true
}

// inClausePlaceholder сообщает, стоит ли плейсхолдер на позиции off
// внутри конструкции 'IN (?)'.
func inClausePlaceholder(query string, off int) bool {
	left := strings.TrimRight(query[:off], " \t\r\n")
	if !strings.HasSuffix(left, "(") {
		return false
	}
	if !precededByInKeyword(left[:len(left)-1]) {
		return false
	}
	right := strings.TrimLeft(query[off+1:], " \t\r\n")
	return strings.HasPrefix(right, ")")
}

// bareInPlaceholder сообщает, стоит ли плейсхолдер на позиции off сразу
// после ключевого слова IN без скобок: 'IN ?'.
func bareInPlaceholder(query string, off int) bool {
	return precededByInKeyword(query[:off])
}

// ExpandInClauses раскрывает параметры-коллекции в 'IN (?)' и 'IN ?' до
// нужной арности: 'IN (?, ?, ...)'; бесскобочная форма получает скобки.
// Пустая коллекция превращается в 'IN (NULL)', что не совпадает ни с
// одной строкой, но и не падает. Несколько IN в одном запросе
// обрабатываются независимо.
func ExpandInClauses(query string, args []any) (string, []any, error) {
	offsets := placeholderOffsets(query)
	if len(offsets) == 0 {
		return query, args, nil
	}
	if len(offsets) != len(args) {
		return "", nil, fmt.Errorf("placeholder count %d does not match argument count %d", len(offsets), len(args))
	}

	var b strings.Builder
	b.Grow(len(query))
	out := make([]any, 0, len(args))
	prev := 0
	for i, off := range offsets {
		b.WriteString(query[prev:off])
		prev = off + 1

		arg := args[i]
		if !isCollection(arg) {
			b.WriteByte('?')
			out = append(out, arg)
			continue
		}
		wrapped := inClausePlaceholder(query, off)
		bare := !wrapped && bareInPlaceholder(query, off)
		if !wrapped && !bare {
			b.WriteByte('?')
			out = append(out, arg)
			continue
		}
		values := flatten(arg)
		if len(values) == 0 {
			if bare {
				b.WriteString("(NULL)")
			} else {
				b.WriteString("NULL")
			}
			continue
		}
		list := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		if bare {
			list = "(" + list + ")"
		}
		b.WriteString(list)
		out = append(out, values...)
	}
	b.WriteString(query[prev:])
	return b.String(), out, nil
}

// FoldNullComparisons заменяет 'IS ?' и 'IS NOT ?' с nil-аргументом на
// 'IS NULL' / 'IS NOT NULL', убирая аргумент. Драйверы не умеют
// биндить NULL в операторе IS.
func FoldNullComparisons(query string, args []any) (string, []any, error) {
	offsets := placeholderOffsets(query)
	if len(offsets) == 0 {
		return query, args, nil
	}
	if len(offsets) != len(args) {
		return "", nil, fmt.Errorf("placeholder count %d does not match argument count %d", len(offsets), len(args))
	}

	var b strings.Builder
	b.Grow(len(query))
	out := make([]any, 0, len(args))
	prev := 0
	for i, off := range offsets {
		b.WriteString(query[prev:off])
		prev = off + 1

		if args[i] != nil || !precededByIsOperator(query, off) {
			b.WriteByte('?')
			out = append(out, args[i])
			continue
		}
		b.WriteString("NULL")
	}
	b.WriteString(query[prev:])
	return b.String(), out, nil
}

// precededByIsOperator проверяет, что перед позицией off стоит
// оператор IS или IS NOT.
func precededByIsOperator(query string, off int) bool {
	left := strings.ToLower(strings.TrimRight(query[:off], " \t\r\n"))
	if strings.HasSuffix(left, " is") || left == "is" {
		return true
	}
	if strings.HasSuffix(left, " not") {
		left = strings.TrimRight(left[:len(left)-4], " \t\r\n")
		return strings.HasSuffix(left, " is") || left == "is"
	}
	return false
}
