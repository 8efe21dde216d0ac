package export

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const table = "climate_records"

// sqliteWriter replaces the climate_records table of the database at path.
type sqliteWriter struct{}

func (sqliteWriter) extension() string { return "db" }

func (sqliteWriter) write(ctx context.Context, path string, rows []locatedRow) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, createTableSQL()); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL())
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, flatten(r)...); err != nil {
			return fmt.Errorf("insert %s: %w", r.Date, err)
		}
	}
	return tx.Commit()
}

func createTableSQL() string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = c + " " + columnType(c)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
}

func insertSQL() string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), marks)
}

func columnType(column string) string {
	switch column {
	case "location", "date", "temperature_unit", "station_code", "station_name", "city", "description", "source", "origin_api":
		return "TEXT"
	case "year", "month", "day", "weekday", "day_of_year", "season", "quarter", "days_counted":
		return "INTEGER"
	default:
		return "REAL"
	}
}
