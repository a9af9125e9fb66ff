package schemacache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultTTL - время жизни записи метаданных по умолчанию
const DefaultTTL = 5 * time.Minute

// Cache - интерфейс кэша метаданных схемы. Кэш является оптимизацией,
// а не источником истины: любой сбой бэкенда означает промах, после
// которого вызывающая сторона читает метаданные напрямую из БД.
type Cache interface {
	// Get возвращает запись и признак попадания
	Get(ctx context.Context, key string) ([]string, bool)
	// Put сохраняет запись с указанным TTL (0 = DefaultTTL)
	Put(ctx context.Context, key string, values []string, ttl time.Duration)
	// Invalidate удаляет одну запись
	Invalidate(ctx context.Context, key string)
	// InvalidateTable удаляет все записи таблицы
	InvalidateTable(ctx context.Context, dialect, database, table string)
}

// Key строит ключ записи: dialect/database/table/kind
func Key(dialect, database, table, kind string) string {
	return fmt.Sprintf("schema:%s:%s:%s:%s", dialect, database, strings.ToLower(table), kind)
}

func tablePrefix(dialect, database, table string) string {
	return fmt.Sprintf("schema:%s:%s:%s:", dialect, database, strings.ToLower(table))
}

type entry struct {
	values  []string
	expires time.Time
}

// Memory - потокобезопасный in-process кэш с TTL
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory создает in-process кэш. ttl <= 0 означает DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]string, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.now().After(e.expires) {
		return nil, false
	}
	return e.values, true
}

func (m *Memory) Put(_ context.Context, key string, values []string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	m.mu.Lock()
	m.entries[key] = entry{values: values, expires: m.now().Add(ttl)}
	m.mu.Unlock()
}

func (m *Memory) Invalidate(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *Memory) InvalidateTable(_ context.Context, dialect, database, table string) {
	prefix := tablePrefix(dialect, database, table)
	m.mu.Lock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}
