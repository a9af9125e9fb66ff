package database

import (
	"context"
	"database/sql"
)

// Tx - transaction-scope поверх соединения. Модель плоская, без
// savepoint'ов: вложенный scope присоединяется к внешнему, фактический
// commit или rollback делает только внешний scope. Ошибка во вложенном
// scope помечает всю транзакцию rollback-only.
type Tx struct {
	c    *Connection
	done bool
}

// beginScope входит в transaction-scope: внешний вход выключает
// autocommit и открывает транзакцию, вложенный только увеличивает
// глубину.
func (c *Connection) beginScope(ctx context.Context) error {
	if c.txDepth == 0 {
		c.scopeAutocommit = c.autocommit
		c.autocommit = false
		if c.tx == nil {
			tx, err := c.conn.BeginTx(ctx, nil)
			if err != nil {
				c.autocommit = c.scopeAutocommit
				return Classify(c.dialect, "begin", err)
			}
			c.tx = tx
		}
	}
	c.txDepth++
	return nil
}

// endScope выходит из transaction-scope. Внешний выход делает ровно
// один commit или rollback и восстанавливает прежний autocommit на
// любом пути. Ошибки rollback логируются и не затирают исходную
// ошибку вызывающего.
func (c *Connection) endScope(failed bool) error {
	if failed {
		c.rollbackOnly = true
	}
	c.txDepth--
	if c.txDepth > 0 {
		return nil
	}

	tx := c.tx
	rollback := c.rollbackOnly
	c.tx = nil
	c.rollbackOnly = false
	defer func() { c.autocommit = c.scopeAutocommit }()

	if rollback {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			c.log.Warn().Err(err).Msg("transaction rollback failed")
		}
		return nil
	}
	if err := tx.Commit(); err != nil {
		return Classify(c.dialect, "commit", err)
	}
	return nil
}

// Transaction выполняет fn в transaction-scope. Чистый выход коммитит,
// ошибка или паника откатывают; autocommit-состояние до входа
// восстанавливается на каждом пути выхода.
func (c *Connection) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	if err := c.beginScope(ctx); err != nil {
		return err
	}
	tx := &Tx{c: c}

	var fnErr error
	panicked := true
	func() {
		defer func() {
			if panicked {
				_ = c.endScope(true)
			}
		}()
		fnErr = fn(tx)
		panicked = false
	}()

	endErr := c.endScope(fnErr != nil)
	if fnErr != nil {
		return fnErr
	}
	return endErr
}

// Begin открывает явный transaction-scope. Закрыть его обязан
// вызывающий через Commit или Rollback.
func (c *Connection) Begin(ctx context.Context) (*Tx, error) {
	if err := c.beginScope(ctx); err != nil {
		return nil, err
	}
	return &Tx{c: c}, nil
}

// Commit завершает scope фиксацией
func (t *Tx) Commit() error {
	if t.done {
		return validationError("commit", "transaction scope already closed")
	}
	t.done = true
	return t.c.endScope(false)
}

// Rollback завершает scope откатом
func (t *Tx) Rollback() error {
	if t.done {
		return validationError("rollback", "transaction scope already closed")
	}
	t.done = true
	return t.c.endScope(true)
}

// ========== Операции внутри scope ==========

// Select выполняет запрос в рамках транзакции
func (t *Tx) Select(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	return t.c.Select(ctx, query, args...)
}

func (t *Tx) SelectRow(ctx context.Context, query string, args ...any) (map[string]any, error) {
	return t.c.SelectRow(ctx, query, args...)
}

func (t *Tx) SelectScalar(ctx context.Context, query string, args ...any) (any, error) {
	return t.c.SelectScalar(ctx, query, args...)
}

func (t *Tx) SelectColumn(ctx context.Context, query string, args ...any) ([]any, error) {
	return t.c.SelectColumn(ctx, query, args...)
}

func (t *Tx) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	return t.c.Execute(ctx, query, args...)
}

func (t *Tx) ExecuteReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	return t.c.ExecuteReturningID(ctx, query, args...)
}

func (t *Tx) InsertRows(ctx context.Context, table string, rows []map[string]any) (int64, error) {
	return t.c.InsertRows(ctx, table, rows)
}

func (t *Tx) Upsert(ctx context.Context, table string, rows []map[string]any, opts UpsertOptions) (int64, error) {
	return t.c.Upsert(ctx, table, rows, opts)
}

// UpdateOrInsert выполняет updateSQL в транзакции; при нуле затронутых
// строк выполняет insertSQL. Семантика last-write-wins: между двумя
// statements нет атомарности, конкурентный писатель может успеть
// вставить строку. Для атомарного поведения используется Upsert.
func (c *Connection) UpdateOrInsert(ctx context.Context, updateSQL, insertSQL string, args ...any) (int64, error) {
	var affected int64
	err := c.Transaction(ctx, func(tx *Tx) error {
		rc, err := tx.Execute(ctx, updateSQL, args...)
		if err != nil {
			return err
		}
		if rc > 0 {
			affected = rc
			return nil
		}
		rc, err = tx.Execute(ctx, insertSQL, args...)
		affected = rc
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}
