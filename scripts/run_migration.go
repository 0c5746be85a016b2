// run_migration applies a single SQL file (schema DDL, a seed script, a
// one-off backfill) against the trading engine's Postgres/TimescaleDB
// database. It has no knowledge of individual table names — callers
// pass whichever .sql file they want executed.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	dbURL := flag.String("db", os.Getenv("DATABASE_DSN"), "database DSN (defaults to $DATABASE_DSN)")
	migrationFile := flag.String("file", "", "migration SQL file to run")
	flag.Parse()

	if *migrationFile == "" {
		fmt.Fprintf(os.Stderr, "usage: run_migration -file <path-to-sql-file> [-db <dsn>]\n")
		os.Exit(1)
	}
	if *dbURL == "" {
		fmt.Fprintf(os.Stderr, "no database DSN: pass -db or set $DATABASE_DSN\n")
		os.Exit(1)
	}

	sqlBytes, err := os.ReadFile(*migrationFile)
	if err != nil {
		log.Fatalf("failed to read migration file: %v", err)
	}

	db, err := sql.Open("pgx", *dbURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	fmt.Printf("connected to database\n")
	fmt.Printf("running migration: %s\n", filepath.Base(*migrationFile))

	if _, err := db.Exec(string(sqlBytes)); err != nil {
		log.Fatalf("failed to execute migration: %v", err)
	}

	fmt.Printf("migration applied successfully\n")
}
