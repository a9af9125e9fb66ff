package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/bissli/database-sub001/pkg/database"
	"github.com/bissli/database-sub001/pkg/sqlutil"
)

// dbping - диагностическая утилита: подключается по YAML-конфигурации,
// проверяет соединение и печатает версию сервера. С флагом -table
// дополнительно показывает колонки и первичные ключи таблицы.
func main() {
	configPath := flag.String("config", "dbping.yaml", "path to YAML connection config")
	table := flag.String("table", "", "table to introspect")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !*verbose {
		log = log.Level(zerolog.WarnLevel)
	}

	if err := run(*configPath, *table, log); err != nil {
		log.Error().Err(err).Msg("dbping failed")
		os.Exit(1)
	}
}

func run(configPath, table string, log zerolog.Logger) error {
	cfg, err := database.LoadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.Logger = log

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	conn, err := database.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		return err
	}
	version, err := conn.SelectScalar(ctx, versionQuery(conn.Dialect()))
	if err != nil {
		return err
	}
	fmt.Printf("dialect:  %s\nversion:  %v\n", conn.Dialect(), version)

	if table != "" {
		columns, err := conn.GetColumns(ctx, table)
		if err != nil {
			return err
		}
		pks, err := conn.GetPrimaryKeys(ctx, table)
		if err != nil {
			return err
		}
		fmt.Printf("table:    %s\ncolumns:  %v\npkeys:    %v\n", table, columns, pks)
	}

	calls, elapsed := conn.Stats()
	fmt.Printf("calls:    %d (%s)\n", calls, elapsed)
	return nil
}

func versionQuery(d sqlutil.Dialect) string {
	switch d {
	case sqlutil.Postgres:
		return "select version()"
	case sqlutil.SQLServer:
		return "select @@version"
	default:
		return "select sqlite_version()"
	}
}
