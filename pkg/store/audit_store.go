package store

import (
	"github.com/arisuchan/chatroom/pkg/model"
)

// AppendAudit records one admin command attempt, successful or not.
func (s *Store) AppendAudit(e model.AuditEntry) error {
	_, err := s.DB.Exec(`
		INSERT INTO audit_log (operator_id, verb, object, target, outcome, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.OperatorID, e.Verb, e.Object, e.Target, e.Outcome, e.Detail)
	return err
}

func (s *Store) RecentAudit(limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.Query(`
		SELECT id, time, operator_id, verb, object, target, outcome, detail
		FROM audit_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Time, &e.OperatorID, &e.Verb, &e.Object, &e.Target, &e.Outcome, &e.Detail); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
