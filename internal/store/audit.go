package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"
)

// AuditStore records deletion outcomes in account_deletions.
type AuditStore struct {
	DB *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{DB: db}
}

// Record inserts one outcome.
func (s *AuditStore) Record(ctx context.Context, audit models.DeletionAudit) error {
	var errText sql.NullString
	if audit.Error != "" {
		errText = sql.NullString{String: audit.Error, Valid: true}
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO account_deletions (external_id, reason, stage, error, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		audit.ExternalID, audit.Reason, audit.Stage, errText, audit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert deletion audit: %w", err)
	}
	return nil
}

// ListFailed returns the most recent failed deletions, newest first.
func (s *AuditStore) ListFailed(ctx context.Context, limit int) ([]models.DeletionAudit, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, external_id, reason, stage, COALESCE(error, ''), created_at
		 FROM account_deletions
		 WHERE stage LIKE '%\_failed'
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deletion audits: %w", err)
	}
	defer rows.Close()

	audits := []models.DeletionAudit{}
	for rows.Next() {
		var a models.DeletionAudit
		if err := rows.Scan(&a.ID, &a.ExternalID, &a.Reason, &a.Stage, &a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deletion audit: %w", err)
		}
		audits = append(audits, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deletion audits: %w", err)
	}
	return audits, nil
}
