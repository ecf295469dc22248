package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"nst/gatekeeper/internal/model"
)

// ErrDuplicate reports a unique-constraint conflict: a second pending
// verification for a user, or a second batch record.
var ErrDuplicate = errors.New("duplicate record")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InsertVerification(ctx context.Context, rec model.VerificationRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO verifications (id, user_id, username, file_url, file_name, file_type, status, submitted_at, reviewed_at, reviewed_by, reason, queue_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.UserID, rec.Username, rec.FileURL, rec.FileName, rec.FileType, rec.Status, rec.SubmittedAt, rec.ReviewedAt, rec.ReviewedBy, rec.Reason, rec.QueueMessageID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) PendingVerification(ctx context.Context, userID string) (model.VerificationRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, username, file_url, file_name, file_type, status, submitted_at, reviewed_at, reviewed_by, reason, queue_message_id
		FROM verifications
		WHERE user_id = $1 AND status = 'pending'
	`, userID)
	return scanVerification(row)
}

func (s *Store) SetQueueMessageID(ctx context.Context, recordID uuid.UUID, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE verifications SET queue_message_id = $1 WHERE id = $2
	`, messageID, recordID)
	return err
}

// DecideVerification moves a user's pending record to a terminal
// status. The WHERE clause is the compare-and-swap: once decided, no
// pending row matches and the record cannot be re-decided.
func (s *Store) DecideVerification(ctx context.Context, userID, status, reviewedBy string, reason *string, reviewedAt time.Time) (model.VerificationRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE verifications
		SET status = $2, reviewed_at = $3, reviewed_by = $4, reason = $5
		WHERE user_id = $1 AND status = 'pending'
		RETURNING id, user_id, username, file_url, file_name, file_type, status, submitted_at, reviewed_at, reviewed_by, reason, queue_message_id
	`, userID, status, reviewedAt, reviewedBy, reason)
	return scanVerification(row)
}

func (s *Store) ListPendingVerifications(ctx context.Context) ([]model.VerificationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, username, file_url, file_name, file_type, status, submitted_at, reviewed_at, reviewed_by, reason, queue_message_id
		FROM verifications
		WHERE status = 'pending'
		ORDER BY submitted_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.VerificationRecord
	for rows.Next() {
		rec, _, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) InsertBatch(ctx context.Context, rec model.BatchRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO batches (user_id, full_name, urn, admission_year, academic_year_number, assigned_role, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.UserID, rec.FullName, rec.URN, rec.AdmissionYear, rec.AcademicYearNumber, rec.AssignedRole, rec.SubmittedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) BatchRecord(ctx context.Context, userID string) (model.BatchRecord, bool, error) {
	var rec model.BatchRecord
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, full_name, urn, admission_year, academic_year_number, assigned_role, submitted_at
		FROM batches
		WHERE user_id = $1
	`, userID)
	err := row.Scan(&rec.UserID, &rec.FullName, &rec.URN, &rec.AdmissionYear, &rec.AcademicYearNumber, &rec.AssignedRole, &rec.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BatchRecord{}, false, nil
	}
	if err != nil {
		return model.BatchRecord{}, false, err
	}
	return rec, true, nil
}

func scanVerification(row pgx.Row) (model.VerificationRecord, bool, error) {
	var rec model.VerificationRecord
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Username,
		&rec.FileURL,
		&rec.FileName,
		&rec.FileType,
		&rec.Status,
		&rec.SubmittedAt,
		&rec.ReviewedAt,
		&rec.ReviewedBy,
		&rec.Reason,
		&rec.QueueMessageID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.VerificationRecord{}, false, nil
	}
	if err != nil {
		return model.VerificationRecord{}, false, err
	}
	return rec, true, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
