package sqlutil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"
)

// SQL Server не присваивает имена вычисляемым колонкам без алиаса и
// падает на 'SELECT COUNT(*)', 'SELECT @@identity' и подобных запросах.
// Драйвер сообщает об этом текстом, а не кодом, поэтому распознавание
// идет по известным сигнатурам сообщения.

var unnamedColumnSignatures = []string{
	"columns with no names",
	"invalid column name",
	"column name or number",
}

// IsUnnamedColumnError распознает ошибку SQL Server о колонках без имени
func IsUnnamedColumnError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range unnamedColumnSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

var (
	identityRe      = regexp.MustCompile(`(?i)@@identity\b`)
	identityAliasRe = regexp.MustCompile(`(?i)@@identity\s+as\s+`)
	selectOneRe     = regexp.MustCompile(`(?i)^(\s*select\s+)1(\s+from)`)
	countStarRe     = regexp.MustCompile(`(?i)^(\s*select\s+)count\(\*\)(\s+from)`)
	countAliasRe    = regexp.MustCompile(`(?i)count\(\*\)\s+as\s+`)
)

// RepairUnnamedColumns переписывает statement, добавляя явные алиасы
// безымянным выражениям. Возвращает измененный SQL и признак того, что
// замена произошла и повтор имеет смысл.
func RepairUnnamedColumns(query string) (string, bool) {
	modified := query

	if identityRe.MatchString(modified) && !identityAliasRe.MatchString(modified) {
		modified = identityRe.ReplaceAllString(modified, "@@identity AS id_col")
	}
	if selectOneRe.MatchString(modified) {
		modified = selectOneRe.ReplaceAllString(modified, "${1}1 AS result_col${2}")
	}
	if countStarRe.MatchString(modified) && !countAliasRe.MatchString(modified) {
		modified = countStarRe.ReplaceAllString(modified, "${1}COUNT(*) AS count_col${2}")
	}
	modified = aliasSelectExpressions(modified)

	return modified, modified != query
}

var (
	existingAliasRe = regexp.MustCompile(`(?i)\s+as\s+\S`)
	simpleColumnRe  = regexp.MustCompile(`^[\w\[\]."]+$`)
)

// aliasSelectExpressions алиасит безымянные выражения в SELECT-списке:
// вызовы функций, арифметику, CASE и подзапросы. Простые ссылки на
// колонки и уже алиасированные элементы не трогаются.
func aliasSelectExpressions(query string) string {
	trimmed := strings.TrimLeft(query, " \t\r\n")
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "select") {
		return query
	}
	if strings.Contains(lower, " into ") {
		return query
	}

	offset := len(query) - len(trimmed) + len("select")
	offset = skipSelectModifiers(query, offset)
	items, listEnd, ok := splitSelectList(query, offset)
	if !ok {
		return query
	}

	changed := false
	out := make([]string, len(items))
	for i, item := range items {
		expr := strings.TrimSpace(item)
		if existingAliasRe.MatchString(expr) || simpleColumnRe.MatchString(expr) {
			out[i] = expr
			continue
		}
		out[i] = expr + " AS [" + GenerateExpressionAlias(expr) + "]"
		changed = true
	}
	if !changed {
		return query
	}
	return query[:offset] + " " + strings.Join(out, ", ") + " " + query[listEnd:]
}

// skipSelectModifiers пропускает DISTINCT / ALL / TOP n после SELECT
func skipSelectModifiers(query string, i int) int {
	for {
		start := i
		for i < len(query) && (query[i] == ' ' || query[i] == '\t' || query[i] == '\r' || query[i] == '\n') {
			i++
		}
		switch {
		case keywordAt(query, i, "distinct"):
			i += len("distinct")
		case keywordAt(query, i, "all"):
			i += len("all")
		case keywordAt(query, i, "top"):
			i += len("top")
			for i < len(query) && (query[i] == ' ' || query[i] == '\t') {
				i++
			}
			for i < len(query) && query[i] >= '0' && query[i] <= '9' {
				i++
			}
		default:
			return start
		}
	}
}

// splitSelectList разбивает SELECT-список на элементы по запятым
// нулевой глубины и возвращает позицию ключевого слова FROM. Без FROM
// на нулевой глубине список не распознается.
func splitSelectList(query string, start int) ([]string, int, bool) {
	depth := 0
	itemStart := start
	var items []string
	for i := start; i < len(query); {
		c := query[i]
		switch {
		case c == '\'' || c == '"':
			i = skipLiteral(query, i)
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case c == ',' && depth == 0:
			items = append(items, query[itemStart:i])
			itemStart = i + 1
			i++
		case depth == 0 && keywordAt(query, i, "from"):
			items = append(items, query[itemStart:i])
			return items, i, true
		default:
			i++
		}
	}
	return nil, 0, false
}

// keywordAt проверяет, что на позиции i стоит ключевое слово word как
// отдельный токен.
func keywordAt(query string, i int, word string) bool {
	if i+len(word) > len(query) {
		return false
	}
	if !strings.EqualFold(query[i:i+len(word)], word) {
		return false
	}
	if i > 0 && isWordChar(query[i-1]) {
		return false
	}
	if i+len(word) < len(query) && isWordChar(query[i+len(word)]) {
		return false
	}
	return true
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

var commonAggregates = map[string]bool{
	"sum": true, "min": true, "max": true, "avg": true,
	"count": true, "convert": true, "cast": true,
}

var funcNameRe = regexp.MustCompile(`(?i)^([a-z_][a-z0-9_]*)\s*\(`)

// GenerateExpressionAlias подбирает детерминированный алиас для
// выражения в SELECT-списке. Для нераспознанных выражений алиас
// строится из xxh3-хэша текста.
func GenerateExpressionAlias(expr string) string {
	trimmed := strings.TrimSpace(expr)
	lower := strings.ToLower(trimmed)

	if strings.HasPrefix(lower, "count(*)") {
		return "count_result"
	}
	if m := funcNameRe.FindStringSubmatch(trimmed); m != nil {
		name := strings.ToLower(m[1])
		if commonAggregates[name] {
			return name + "_result"
		}
	}
	if strings.HasPrefix(lower, "case") {
		return "case_result"
	}
	if strings.HasPrefix(trimmed, "(") && strings.Contains(lower, "select") {
		return "subquery_result"
	}
	if strings.ContainsAny(trimmed, "+-*/") {
		return "calc_result"
	}
	return fmt.Sprintf("expr_%08x", uint32(xxh3.HashString(trimmed)))
}
