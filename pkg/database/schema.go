package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator verifies the deployed schema before the store starts
// serving, so structural drift fails fast instead of at query time.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"exams":             "Exam configuration and faculty control flags",
		"sessions":          "Proctored attempt state",
		"violations":        "Violation audit rows",
		"activity_log":      "Behavior event records",
		"answers":           "Autosaved attempt answers",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column types match the Go structs that
// scan them.
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":                 "TEXT",
		"exam_id":            "TEXT",
		"student_id":         "TEXT",
		"state":              "TEXT",
		"baseline":           "REAL",
		"no_face_count":      "INTEGER",
		"multi_face_count":   "INTEGER",
		"looking_away_count": "INTEGER",
		"tab_switch_count":   "INTEGER",
		"max_tab_switches":   "INTEGER",
		"max_violations":     "INTEGER",
		"proctored":          "INTEGER",
		"started_at":         "DATETIME",
		"ends_at":            "DATETIME",
		"termination_reason": "TEXT",
		"terminated_at":      "DATETIME",
		"submitted":          "INTEGER",
	}
	if err := v.validateColumns("sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}

	examColumns := map[string]string{
		"id":                "TEXT",
		"title":             "TEXT",
		"duration_minutes":  "INTEGER",
		"max_tab_switches":  "INTEGER",
		"max_violations":    "INTEGER",
		"enable_proctoring": "INTEGER",
		"ends_at":           "DATETIME",
		"force_ended":       "INTEGER",
		"force_ended_at":    "DATETIME",
	}
	if err := v.validateColumns("exams", examColumns); err != nil {
		return fmt.Errorf("exams table structure invalid: %w", err)
	}

	violationColumns := map[string]string{
		"id":         "TEXT",
		"session_id": "TEXT",
		"kind":       "TEXT",
		"message":    "TEXT",
		"created_at": "DATETIME",
	}
	if err := v.validateColumns("violations", violationColumns); err != nil {
		return fmt.Errorf("violations table structure invalid: %w", err)
	}

	activityColumns := map[string]string{
		"id":          "TEXT",
		"session_id":  "TEXT",
		"type":        "TEXT",
		"severity":    "TEXT",
		"description": "TEXT",
		"created_at":  "DATETIME",
	}
	if err := v.validateColumns("activity_log", activityColumns); err != nil {
		return fmt.Errorf("activity_log table structure invalid: %w", err)
	}

	answerColumns := map[string]string{
		"session_id":  "TEXT",
		"question_id": "TEXT",
		"value":       "TEXT",
		"updated_at":  "DATETIME",
	}
	if err := v.validateColumns("answers", answerColumns); err != nil {
		return fmt.Errorf("answers table structure invalid: %w", err)
	}

	return nil
}

func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	actual := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var defaultValue sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		actual[name] = colType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, expectedType := range expected {
		actualType, exists := actual[column]
		if !exists {
			return fmt.Errorf("missing column %s", column)
		}
		if actualType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", column, actualType, expectedType)
		}
	}

	return nil
}
