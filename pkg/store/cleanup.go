package store

import (
	"fmt"
	"time"
)

// CountRows returns the number of rows currently in table.
func (s *Store) CountRows(table string) (int, error) {
	statement := fmt.Sprintf(`SELECT count(*) FROM %s`, quoteIdent(table))
	var n int
	err := s.db.QueryRow(statement).Scan(&n)
	return n, err
}

// FindNthOldest returns the value of timeColumn for the nth-oldest row in
// table (1-indexed), used by the cleanup engine to compute a deletion
// cutoff without doing the delete in the same pass.
func (s *Store) FindNthOldest(table, timeColumn string, n int) (time.Time, error) {
	statement := fmt.Sprintf(
		`SELECT %s FROM %s ORDER BY %s ASC OFFSET $1 LIMIT 1`,
		quoteIdent(timeColumn), quoteIdent(table), quoteIdent(timeColumn))
	var cutoff time.Time
	err := s.db.QueryRow(statement, n-1).Scan(&cutoff)
	return cutoff, err
}

// DeleteOlderThan removes every row in table whose timeColumn value is
// strictly less than cutoff, preserving the invariant that no row newer
// than any retained row is ever removed (§3).
func (s *Store) DeleteOlderThan(table, timeColumn string, cutoff time.Time) (int64, error) {
	statement := fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, quoteIdent(table), quoteIdent(timeColumn))
	res, err := s.db.Exec(statement, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// quoteIdent double-quotes a table/column identifier. Table and column
// names reaching this function always come from the fixed CleanupTableSpec
// list in pkg/config, never from external input.
func quoteIdent(ident string) string {
	return `"` + ident + `"`
}
