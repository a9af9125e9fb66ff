package strategy

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bissli/database-sub001/pkg/schemacache"
	"github.com/bissli/database-sub001/pkg/sqlutil"
)

// Runner - минимальная поверхность соединения, которую стратегии
// используют для выполнения SQL. Реализуется оберткой соединения.
type Runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	// Autocommit и SetAutocommit нужны операциям, которые не могут
	// выполняться внутри транзакции (vacuum/reindex в PostgreSQL)
	Autocommit() bool
	SetAutocommit(ctx context.Context, on bool) error
	// Database возвращает имя базы для ключей кэша схемы
	Database() string
}

// Strategy - набор диалект-специфичных операций обслуживания и
// интроспекции. Реализации stateless, один экземпляр на диалект.
type Strategy interface {
	Dialect() sqlutil.Dialect

	// ========== Maintenance ==========

	VacuumTable(ctx context.Context, r Runner, table string) error
	ReindexTable(ctx context.Context, r Runner, table string) error
	ClusterTable(ctx context.Context, r Runner, table, index string) error
	ResetSequence(ctx context.Context, r Runner, table, column string) error

	// ========== Introspection ==========

	GetPrimaryKeys(ctx context.Context, r Runner, table string) ([]string, error)
	GetColumns(ctx context.Context, r Runner, table string) ([]string, error)
	GetSequenceColumns(ctx context.Context, r Runner, table string) ([]string, error)
	// GetConstraintDefinition возвращает conflict-target для именованного
	// уникального индекса: '(col, ...)' плюс WHERE-предикат частичного
	// индекса, если он есть
	GetConstraintDefinition(ctx context.Context, r Runner, table, constraint string) (string, error)

	// ========== Connection ==========

	ConfigureConnection(ctx context.Context, r Runner) error
	QuoteIdentifier(name string) (string, error)
	ParamLimit() int
}

// Constructor создает стратегию с заданным кэшем схемы
type Constructor func(cache schemacache.Cache, log zerolog.Logger) Strategy

var (
	registryMu sync.RWMutex
	registry   = make(map[sqlutil.Dialect]Constructor)
)

// register добавляет конструктор стратегии, вызывается из init()
// файлов диалектов
func register(d sqlutil.Dialect, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d] = ctor
}

// Factory выдает стратегии по диалекту, кэшируя экземпляры.
// Кэш схемы и логгер внедряются при создании фабрики.
type Factory struct {
	cache schemacache.Cache
	log   zerolog.Logger

	mu        sync.RWMutex
	instances map[sqlutil.Dialect]Strategy
}

// NewFactory создает фабрику стратегий. cache может быть nil, тогда
// интроспекция всегда идет напрямую в БД.
func NewFactory(cache schemacache.Cache, log zerolog.Logger) *Factory {
	return &Factory{
		cache:     cache,
		log:       log,
		instances: make(map[sqlutil.Dialect]Strategy),
	}
}

// Get возвращает стратегию диалекта. Для одного диалекта всегда
// возвращается один и тот же экземпляр.
func (f *Factory) Get(d sqlutil.Dialect) (Strategy, error) {
	f.mu.RLock()
	s, ok := f.instances[d]
	f.mu.RUnlock()
	if ok {
		return s, nil
	}

	registryMu.RLock()
	ctor, ok := registry[d]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported dialect: %q", d)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.instances[d]; ok {
		return s, nil
	}
	s = ctor(f.cache, f.log)
	f.instances[d] = s
	return s, nil
}

type bypassKey struct{}

// WithBypassCache помечает контекст: интроспекция должна прочитать
// метаданные напрямую из БД и обновить кэш.
func WithBypassCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

func bypassCache(ctx context.Context) bool {
	v, _ := ctx.Value(bypassKey{}).(bool)
	return v
}

// FindSequenceColumn подбирает колонку-последовательность таблицы.
// Приоритет: пересечение первичных ключей и sequence-колонок с
// предпочтением имен, содержащих 'id'; затем sequence-колонки; затем
// первичные ключи; в конце литерал 'id'.
func FindSequenceColumn(ctx context.Context, s Strategy, r Runner, table string) (string, error) {
	primaryKeys, err := s.GetPrimaryKeys(ctx, r, table)
	if err != nil {
		return "", fmt.Errorf("failed to get primary keys for %s: %w", table, err)
	}
	sequenceCols, err := s.GetSequenceColumns(ctx, r, table)
	if err != nil {
		return "", fmt.Errorf("failed to get sequence columns for %s: %w", table, err)
	}

	var both []string
	seq := make(map[string]bool, len(sequenceCols))
	for _, c := range sequenceCols {
		seq[strings.ToLower(c)] = true
	}
	for _, c := range primaryKeys {
		if seq[strings.ToLower(c)] {
			both = append(both, c)
		}
	}

	for _, candidates := range [][]string{both, sequenceCols, primaryKeys} {
		if len(candidates) == 0 {
			continue
		}
		return preferIDNamed(candidates), nil
	}
	return "id", nil
}

// preferIDNamed выбирает из кандидатов колонку, содержащую 'id' в
// имени, иначе первую.
func preferIDNamed(candidates []string) string {
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), "id") {
			return c
		}
	}
	return candidates[0]
}

// cachedTTL - TTL записей интроспекции
const cachedTTL = 5 * time.Minute

// base - общая часть стратегий: диалект, кэш схемы, логгер
type base struct {
	dialect sqlutil.Dialect
	cache   schemacache.Cache
	log     zerolog.Logger
}

// cachedList выполняет fetch с кэшированием результата по ключу
// dialect/database/table/kind. Промах или bypass ведут к прямому
// чтению и обновлению записи.
func (b *base) cachedList(ctx context.Context, r Runner, table, kind string, fetch func() ([]string, error)) ([]string, error) {
	if b.cache == nil {
		return fetch()
	}
	key := schemacache.Key(string(b.dialect), r.Database(), table, kind)
	if !bypassCache(ctx) {
		if values, ok := b.cache.Get(ctx, key); ok {
			return values, nil
		}
	}
	values, err := fetch()
	if err != nil {
		return nil, err
	}
	b.cache.Put(ctx, key, values, cachedTTL)
	return values, nil
}

// queryStrings выполняет запрос и собирает первую колонку результата
func queryStrings(ctx context.Context, r Runner, query string, args ...any) ([]string, error) {
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// withAutocommit выполняет fn при принудительно включенном autocommit,
// восстанавливая прежний режим даже при ошибке.
func withAutocommit(ctx context.Context, r Runner, fn func() error) error {
	prev := r.Autocommit()
	if !prev {
		if err := r.SetAutocommit(ctx, true); err != nil {
			return fmt.Errorf("failed to enable autocommit: %w", err)
		}
		defer func() {
			_ = r.SetAutocommit(ctx, prev)
		}()
	}
	return fn()
}
