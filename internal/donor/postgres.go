package donor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRepository reads donor snapshots from the host application's
// donor tables. The engine only ever reads; writes belong to the CRM.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository over an existing connection pool.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Snapshot loads the full donor population inside one repeatable-read
// transaction so the three reads observe a single MVCC snapshot.
func (r *PostgresRepository) Snapshot(ctx context.Context) ([]*Donor, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	donors, index, err := r.loadDonors(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := r.loadDonations(ctx, tx, index); err != nil {
		return nil, err
	}
	if err := r.loadInteractions(ctx, tx, index); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}
	return donors, nil
}

// Get loads a single donor with full history, or nil when absent.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Donor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, age, location, tags, created_at
		FROM donors WHERE id = $1
	`, id)

	d, err := scanDonor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get donor %s: %w", id, err)
	}

	index := map[string]*Donor{d.ID: d}
	if err := r.loadDonations(ctx, r.db, index); err != nil {
		return nil, err
	}
	if err := r.loadInteractions(ctx, r.db, index); err != nil {
		return nil, err
	}
	return d, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *PostgresRepository) loadDonors(ctx context.Context, q querier) ([]*Donor, map[string]*Donor, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, email, first_name, last_name, age, location, tags, created_at
		FROM donors ORDER BY id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("query donors: %w", err)
	}
	defer rows.Close()

	var donors []*Donor
	index := make(map[string]*Donor)
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan donor: %w", err)
		}
		donors = append(donors, d)
		index[d.ID] = d
	}
	return donors, index, rows.Err()
}

func (r *PostgresRepository) loadDonations(ctx context.Context, q querier, index map[string]*Donor) error {
	rows, err := q.QueryContext(ctx, `
		SELECT donor_id, amount, campaign_id, channel, donated_at
		FROM donations ORDER BY donor_id, donated_at
	`)
	if err != nil {
		return fmt.Errorf("query donations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var donorID string
		var don Donation
		var campaignID, channel sql.NullString
		if err := rows.Scan(&donorID, &don.Amount, &campaignID, &channel, &don.DonatedAt); err != nil {
			return fmt.Errorf("scan donation: %w", err)
		}
		don.CampaignID = campaignID.String
		don.Channel = channel.String
		if d, ok := index[donorID]; ok {
			d.Donations = append(d.Donations, don)
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) loadInteractions(ctx context.Context, q querier, index map[string]*Donor) error {
	rows, err := q.QueryContext(ctx, `
		SELECT donor_id, channel, type, campaign_id, responded, occurred_at
		FROM donor_interactions ORDER BY donor_id, occurred_at
	`)
	if err != nil {
		return fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var donorID string
		var in Interaction
		var campaignID sql.NullString
		if err := rows.Scan(&donorID, &in.Channel, &in.Type, &campaignID, &in.Responded, &in.OccurredAt); err != nil {
			return fmt.Errorf("scan interaction: %w", err)
		}
		in.CampaignID = campaignID.String
		if d, ok := index[donorID]; ok {
			d.Interactions = append(d.Interactions, in)
		}
	}
	return rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDonor(s scanner) (*Donor, error) {
	d := &Donor{}
	var firstName, lastName, location sql.NullString
	var age sql.NullInt32
	var tags pq.StringArray
	var createdAt time.Time

	if err := s.Scan(&d.ID, &d.Email, &firstName, &lastName, &age, &location, &tags, &createdAt); err != nil {
		return nil, err
	}
	d.FirstName = firstName.String
	d.LastName = lastName.String
	d.Location = location.String
	if age.Valid {
		v := int(age.Int32)
		d.Age = &v
	}
	d.Tags = tags
	d.CreatedAt = createdAt
	return d, nil
}
