package postgres

import (
	"context"
	"errors"
	"fmt"

	"subtitle-credit-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// RegistrationRepo implements ports.RegistrationRepository.
type RegistrationRepo struct {
	pool Pool
}

// NewRegistrationRepo creates a new RegistrationRepo.
func NewRegistrationRepo(pool Pool) *RegistrationRepo {
	return &RegistrationRepo{pool: pool}
}

// Create inserts the tracking record. A second insert for the same account
// is a no-op; the record is written once at registration and never revised.
func (r *RegistrationRepo) Create(ctx context.Context, rec *domain.RegistrationRecord) error {
	query := `INSERT INTO registration_tracking
		(account_id, ip_address, browser_fingerprint, suspicious_score, credits_awarded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		rec.AccountID, rec.IPAddress, rec.BrowserFingerprint, rec.SuspiciousScore, rec.CreditsAwarded, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create registration record: %w", err)
	}
	return nil
}

func (r *RegistrationRepo) Get(ctx context.Context, accountID string) (*domain.RegistrationRecord, error) {
	query := `SELECT account_id, ip_address, browser_fingerprint, suspicious_score, credits_awarded, created_at
		FROM registration_tracking WHERE account_id = $1`

	rec := &domain.RegistrationRecord{}
	err := r.pool.QueryRow(ctx, query, accountID).Scan(
		&rec.AccountID, &rec.IPAddress, &rec.BrowserFingerprint, &rec.SuspiciousScore, &rec.CreditsAwarded, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get registration record: %w", err)
	}
	return rec, nil
}

func (r *RegistrationRepo) ListByMinScore(ctx context.Context, minScore int) ([]domain.RegistrationRecord, error) {
	query := `SELECT account_id, ip_address, browser_fingerprint, suspicious_score, credits_awarded, created_at
		FROM registration_tracking WHERE suspicious_score >= $1
		ORDER BY suspicious_score DESC, created_at DESC`

	rows, err := r.pool.Query(ctx, query, minScore)
	if err != nil {
		return nil, fmt.Errorf("list registrations by score: %w", err)
	}
	defer rows.Close()

	var recs []domain.RegistrationRecord
	for rows.Next() {
		rec := domain.RegistrationRecord{}
		if err := rows.Scan(&rec.AccountID, &rec.IPAddress, &rec.BrowserFingerprint,
			&rec.SuspiciousScore, &rec.CreditsAwarded, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan registration record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registration records: %w", err)
	}
	return recs, nil
}
