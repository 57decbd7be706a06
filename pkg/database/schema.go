package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a journal database against the structure the
// journal code expects.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies every journal table exists.
func (v *SchemaValidator) ValidateTablesExist() error {
	required := []string{"session_runs", "chat_messages", "incidents", "missions", "schema_migrations"}
	for _, table := range required {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	tables := map[string]map[string]string{
		"session_runs": {
			"run_id":     "TEXT",
			"session_id": "TEXT",
			"host_name":  "TEXT",
			"created_at": "DATETIME",
			"ended_at":   "DATETIME",
		},
		"chat_messages": {
			"id":          "INTEGER",
			"run_id":      "TEXT",
			"player_id":   "TEXT",
			"player_name": "TEXT",
			"text":        "TEXT",
			"timestamp":   "DATETIME",
		},
		"incidents": {
			"id":                "TEXT",
			"run_id":            "TEXT",
			"type":              "TEXT",
			"start_time":        "DATETIME",
			"end_time":          "DATETIME",
			"resolved_manually": "INTEGER",
		},
		"missions": {
			"id":           "TEXT",
			"run_id":       "TEXT",
			"mission_id":   "TEXT",
			"status":       "TEXT",
			"players":      "TEXT",
			"completed_at": "DATETIME",
		},
	}
	for table, columns := range tables {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies the lookup indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	required := []string{
		"idx_runs_session_created",
		"idx_chat_run_time",
		"idx_incidents_run",
		"idx_missions_run",
	}
	for _, index := range required {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints probes the foreign key and status check constraints.
// The probe runs in a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO chat_messages (run_id, player_id, player_name, text, timestamp)
		VALUES ('no-such-run', 'p', 'P', 'hi', CURRENT_TIMESTAMP)
	`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: chat_messages.run_id")
	}

	if _, err := tx.Exec(`
		INSERT INTO session_runs (run_id, session_id, host_name, created_at)
		VALUES ('probe-run', 'PROBE', 'probe', CURRENT_TIMESTAMP)
	`); err != nil {
		return fmt.Errorf("failed to create probe run: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO missions (id, run_id, mission_id, status, players)
		VALUES ('probe', 'probe-run', 'm', 'abandoned', '[]')
	`); err == nil {
		return fmt.Errorf("check constraint not enforced: missions.status")
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(table string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, dtype  string
			notNull, pk  int
			defaultValue any
		)
		if err := rows.Scan(&cid, &name, &dtype, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dtype
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, want := range expected {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, want)
		}
	}
	return nil
}
