package engine

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaDriftError means the destination table is missing canonical
// columns the mapping expects. Fatal for that table only; nothing is
// written to a drifted table.
type SchemaDriftError struct {
	Table   string
	Missing []string
}

func (e *SchemaDriftError) Error() string {
	return fmt.Sprintf("schema drift on %s: destination missing columns %s",
		e.Table, strings.Join(e.Missing, ", "))
}

// IsSchemaDrift reports whether err is (or wraps) a SchemaDriftError.
func IsSchemaDrift(err error) bool {
	var e *SchemaDriftError
	return errors.As(err, &e)
}

// RequiredFieldMissing rejects one whole row: a field marked required is
// absent, resolved to NULL, or failed coercion. Partial-but-wrong data is
// never written.
type RequiredFieldMissing struct {
	Table    string
	RecordID string
	Field    string
	Reason   string
}

func (e *RequiredFieldMissing) Error() string {
	return fmt.Sprintf("required field %s missing on %s record %s: %s",
		e.Field, e.Table, e.RecordID, e.Reason)
}

// TransactionError is a batch commit failure that survived one retry.
// Fatal for that table only.
type TransactionError struct {
	Table string
	Batch int
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed on %s batch %d: %v", e.Table, e.Batch, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// IsTransaction reports whether err is (or wraps) a TransactionError.
func IsTransaction(err error) bool {
	var e *TransactionError
	return errors.As(err, &e)
}
