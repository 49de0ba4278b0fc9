package db

import (
	"database/sql"

	"github.com/teranos/intake/errors"
)

// TableCount is the row count of one application table
type TableCount struct {
	Table string
	Rows  int64
}

// statsTables are reported by `intake db stats`, in display order
var statsTables = []string{
	"jobs",
	"candidates",
	"raw_ingest_documents",
	"job_logs",
	"pulse_tasks",
	"ai_model_usage",
}

// Stats counts rows in the application tables
func Stats(db *sql.DB) ([]TableCount, error) {
	counts := make([]TableCount, 0, len(statsTables))
	for _, table := range statsTables {
		var n int64
		// table names come from the fixed list above
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "failed to count %s", table)
		}
		counts = append(counts, TableCount{Table: table, Rows: n})
	}
	return counts, nil
}

// AppliedVersions lists recorded migration versions in order
func AppliedVersions(db *sql.DB) ([]string, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read schema_migrations")
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "failed to scan migration version")
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
