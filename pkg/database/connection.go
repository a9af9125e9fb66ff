package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	// драйверы поддерживаемых диалектов
	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/bissli/database-sub001/pkg/retry"
	"github.com/bissli/database-sub001/pkg/schemacache"
	"github.com/bissli/database-sub001/pkg/sqlutil"
	"github.com/bissli/database-sub001/pkg/strategy"
)

// Connection - обертка над одним физическим соединением. Соединение
// закрепляется за оберткой, чтобы состояние сессии (autocommit,
// конфигурация стратегии) было стабильным. Экземпляр принадлежит
// одному логическому вызывающему, внутренних блокировок нет.
type Connection struct {
	cfg     Config
	dialect sqlutil.Dialect
	db      *sql.DB
	conn    *sql.Conn
	ownsDB  bool
	strat   strategy.Strategy
	cache   schemacache.Cache
	log     zerolog.Logger
	retryer *retry.Retryer

	// autocommit-машина: при выключенном autocommit statements идут
	// через лениво открытую неявную транзакцию
	autocommit bool
	tx         *sql.Tx
	txDepth    int
	// autocommit-состояние, которое восстановит выход из внешнего
	// transaction-scope
	scopeAutocommit bool
	rollbackOnly    bool

	calls   int64
	elapsed time.Duration
}

// интерфейс стратегии реализуется соединением
var _ strategy.Runner = (*Connection)(nil)

// Connect открывает соединение и настраивает его под диалект
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	driverName, dsn, err := cfg.driverAndDSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: "connect", Err: err}
	}
	c, err := Wrap(ctx, db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// Wrap строит обертку поверх готового *sql.DB. Используется Connect
// и тестами с подменным драйвером.
func Wrap(ctx context.Context, db *sql.DB, cfg Config) (*Connection, error) {
	dialect := sqlutil.Dialect(cfg.Dialect)
	if !dialect.Valid() {
		return nil, validationError("connect", "unknown dialect %q", cfg.Dialect)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}

	cache := cfg.Cache
	if cache == nil {
		cache = schemacache.NewMemory(cfg.CacheTTL)
	}
	strat, err := strategy.NewFactory(cache, cfg.Logger).Get(dialect)
	if err != nil {
		return nil, validationError("connect", "%v", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: "connect", Err: err}
	}

	c := &Connection{
		cfg:        cfg,
		dialect:    dialect,
		db:         db,
		conn:       conn,
		strat:      strat,
		cache:      cache,
		log:        cfg.Logger,
		autocommit: true,
	}

	if cfg.RetryAttempts > 1 {
		retryCfg := retry.Config{
			Enabled:           true,
			MaxAttempts:       cfg.RetryAttempts,
			InitialDelay:      cfg.RetryDelay,
			MaxDelay:          30 * time.Second,
			BackoffStrategy:   retry.BackoffExponential,
			BackoffMultiplier: 1.5,
			IsRetryable:       IsConnectionError,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				c.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("transient connection error, retrying")
			},
		}
		c.retryer, err = retry.NewRetryer(retryCfg)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to build retryer: %w", err)
		}
	}

	if err := strat.ConfigureConnection(ctx, c); err != nil {
		conn.Close()
		return nil, Classify(dialect, "configure connection", err)
	}
	return c, nil
}

// Close откатывает незавершенную транзакцию и освобождает соединение
func (c *Connection) Close() error {
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && err != sql.ErrTxDone {
			c.log.Warn().Err(err).Msg("rollback on close failed")
		}
		c.tx = nil
	}
	err := c.conn.Close()
	if c.ownsDB {
		if dbErr := c.db.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}

// Ping проверяет живость соединения
func (c *Connection) Ping(ctx context.Context) error {
	return Classify(c.dialect, "ping", c.conn.PingContext(ctx))
}

// Dialect возвращает диалект соединения
func (c *Connection) Dialect() sqlutil.Dialect { return c.dialect }

// Strategy возвращает стратегию диалекта
func (c *Connection) Strategy() strategy.Strategy { return c.strat }

// Database возвращает имя базы для ключей кэша схемы
func (c *Connection) Database() string { return c.cfg.Database }

// InTransaction сообщает о наличии открытого transaction-scope
func (c *Connection) InTransaction() bool { return c.txDepth > 0 }

// Stats возвращает число выполненных вызовов и суммарное время
func (c *Connection) Stats() (int64, time.Duration) {
	return c.calls, c.elapsed
}

func (c *Connection) addCall(d time.Duration) {
	c.calls++
	c.elapsed += d
}

// Autocommit возвращает текущий режим autocommit
func (c *Connection) Autocommit() bool { return c.autocommit }

// SetAutocommit переключает режим autocommit. Включение фиксирует
// незавершенную неявную транзакцию. Внутри transaction-scope режим
// менять нельзя.
func (c *Connection) SetAutocommit(ctx context.Context, on bool) error {
	if on == c.autocommit {
		return nil
	}
	if c.txDepth > 0 {
		return validationError("set autocommit", "cannot change autocommit inside a transaction scope")
	}
	if on && c.tx != nil {
		if err := c.tx.Commit(); err != nil {
			return Classify(c.dialect, "commit pending work", err)
		}
		c.tx = nil
	}
	c.autocommit = on
	return nil
}

// executor возвращает активную поверхность выполнения: открытую
// транзакцию или само соединение. При выключенном autocommit неявная
// транзакция открывается лениво.
func (c *Connection) executor(ctx context.Context) (executor, error) {
	if !c.autocommit && c.tx == nil {
		tx, err := c.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, Classify(c.dialect, "begin", err)
		}
		c.tx = tx
	}
	if c.tx != nil {
		return c.tx, nil
	}
	return c.conn, nil
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// do выполняет операцию, ретраясь на transient-ошибках соединения.
// Внутри транзакции повтор невозможен: состояние сервера потеряно.
func (c *Connection) do(ctx context.Context, op func(ctx context.Context) error) error {
	if c.retryer == nil || c.tx != nil || c.txDepth > 0 {
		return op(ctx)
	}
	return c.retryer.Do(ctx, op)
}

// repairedOnce возвращает исправленный SQL для ошибки SQL Server о
// безымянных колонках. Повтор выполняется ровно один раз.
func (c *Connection) repairedOnce(query string, err error) (string, bool) {
	if c.dialect != sqlutil.SQLServer || !sqlutil.IsUnnamedColumnError(err) {
		return "", false
	}
	repaired, changed := sqlutil.RepairUnnamedColumns(query)
	if changed {
		c.log.Debug().Str("sql", sanitizeSQL(repaired)).Msg("retrying with aliased columns")
	}
	return repaired, changed
}

func (c *Connection) fail(op, query string, err error) error {
	classified := Classify(c.dialect, op, err)
	c.log.Error().Err(err).Str("sql", sanitizeSQL(query)).Msg(op + " failed")
	return classified
}

// sanitizeSQL обрезает текст запроса для логов
func sanitizeSQL(query string) string {
	const maxLen = 500
	if len(query) > maxLen {
		return query[:maxLen] + "..."
	}
	return query
}
