package ledger

import (
	"database/sql"
	"time"
)

// Issued is one ledger row: an invoice that was generated and written.
type Issued struct {
	ID          int64
	Fingerprint string
	Number      string
	Recipient   string
	Year        int
	Month       int
	Counter     int
	Total       float64
	RunID       string
	CreatedAt   time.Time
}

// IssuedRepo provides access to the issued_invoices table.
type IssuedRepo struct {
	db *sql.DB
}

// NewIssuedRepo creates a repo over the given database handle.
func NewIssuedRepo(db *sql.DB) *IssuedRepo {
	return &IssuedRepo{db: db}
}

// Insert records a newly generated invoice.
func (r *IssuedRepo) Insert(inv Issued) (*Issued, error) {
	result, err := r.db.Exec(
		`INSERT INTO issued_invoices
		 (fingerprint, number, recipient, year, month, counter, total, run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.Fingerprint, inv.Number, inv.Recipient,
		inv.Year, inv.Month, inv.Counter, inv.Total, inv.RunID,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

// GetByID returns one row, or nil when absent.
func (r *IssuedRepo) GetByID(id int64) (*Issued, error) {
	return r.scanOne(r.db.QueryRow(
		`SELECT id, fingerprint, number, recipient, year, month, counter, total, run_id, created_at
		 FROM issued_invoices WHERE id = ?`, id))
}

// GetByFingerprint returns the ledger row for a content fingerprint,
// or nil when that exact invoice was never issued.
func (r *IssuedRepo) GetByFingerprint(fingerprint string) (*Issued, error) {
	return r.scanOne(r.db.QueryRow(
		`SELECT id, fingerprint, number, recipient, year, month, counter, total, run_id, created_at
		 FROM issued_invoices WHERE fingerprint = ?`, fingerprint))
}

// NextCounter returns the next free running counter for the given
// invoice year and month.
func (r *IssuedRepo) NextCounter(year, month int) (int, error) {
	var next int
	err := r.db.QueryRow(
		`SELECT COALESCE(MAX(counter), 0) + 1 FROM issued_invoices WHERE year = ? AND month = ?`,
		year, month,
	).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// List returns all issued invoices, newest first.
func (r *IssuedRepo) List() ([]Issued, error) {
	rows, err := r.db.Query(
		`SELECT id, fingerprint, number, recipient, year, month, counter, total, run_id, created_at
		 FROM issued_invoices ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Issued
	for rows.Next() {
		var inv Issued
		if err := rows.Scan(
			&inv.ID, &inv.Fingerprint, &inv.Number, &inv.Recipient,
			&inv.Year, &inv.Month, &inv.Counter, &inv.Total, &inv.RunID, &inv.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *IssuedRepo) scanOne(row *sql.Row) (*Issued, error) {
	var inv Issued
	err := row.Scan(
		&inv.ID, &inv.Fingerprint, &inv.Number, &inv.Recipient,
		&inv.Year, &inv.Month, &inv.Counter, &inv.Total, &inv.RunID, &inv.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
