package database

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/bissli/database-sub001/pkg/dbtypes"
	"github.com/bissli/database-sub001/pkg/schemacache"
	"github.com/bissli/database-sub001/pkg/sqlutil"
)

// RowMaterializer - подключаемый колбек материализации результата.
// Получает нормализованные строки и метаданные колонок, возвращает
// контейнер в формате вызывающей стороны. Обязан корректно принимать
// пустой срез строк, сохраняя идентичность колонок.
type RowMaterializer func(rows []map[string]any, columns []dbtypes.Column) any

// Config - параметры подключения и поведения обертки
type Config struct {
	// Dialect - один из postgres | sqlserver | sqlite
	Dialect  string `yaml:"dialect"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Database - имя базы, для SQLite путь к файлу или ':memory:'
	Database string `yaml:"database"`
	AppName  string `yaml:"app_name"`
	// DSN - готовая строка подключения; если задана, поля выше
	// не используются
	DSN string `yaml:"dsn"`

	Timeout   time.Duration `yaml:"timeout"`
	ChunkSize int           `yaml:"chunk_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`

	// RetryAttempts - число попыток для transient-ошибок соединения,
	// 0 или 1 отключает retry
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	// Cache - внедряемый кэш метаданных схемы; nil означает
	// in-process кэш с TTL CacheTTL
	Cache schemacache.Cache `yaml:"-"`
	// Materializer - колбек материализации для SelectAs
	Materializer RowMaterializer `yaml:"-"`
	Logger       zerolog.Logger  `yaml:"-"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		ChunkSize:     5000,
		CacheTTL:      schemacache.DefaultTTL,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		Logger:        zerolog.Nop(),
	}
}

// LoadConfig читает YAML-конфигурацию поверх значений по умолчанию
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// driverAndDSN возвращает имя зарегистрированного драйвера и строку
// подключения для диалекта.
func (c Config) driverAndDSN() (string, string, error) {
	d := sqlutil.Dialect(c.Dialect)
	if !d.Valid() {
		return "", "", validationError("connect", "unknown dialect %q", c.Dialect)
	}
	switch d {
	case sqlutil.Postgres:
		return "pgx", c.dsnOr(c.postgresDSN()), nil
	case sqlutil.SQLServer:
		return "sqlserver", c.dsnOr(c.sqlserverDSN()), nil
	default:
		return "sqlite", c.dsnOr(c.Database), nil
	}
}

func (c Config) dsnOr(built string) string {
	if c.DSN != "" {
		return c.DSN
	}
	return built
}

func (c Config) postgresDSN() string {
	q := url.Values{}
	if c.AppName != "" {
		q.Set("application_name", c.AppName)
	}
	if c.Timeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(c.Timeout.Seconds())))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (c Config) sqlserverDSN() string {
	q := url.Values{}
	q.Set("database", c.Database)
	if c.AppName != "" {
		q.Set("app name", c.AppName)
	}
	if c.Timeout > 0 {
		q.Set("dial timeout", fmt.Sprintf("%d", int(c.Timeout.Seconds())))
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}
