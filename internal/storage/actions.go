package storage

import (
	"database/sql"
	"fmt"

	"github.com/kalambet/smartfile/internal/apperr"
)

// SaveActions appends the batch's actions to the log in one transaction and
// fills in their ids.
func (s *Store) SaveActions(folderID int64, batchID string, actions []Action) error {
	err := s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO organisation_actions
				(batch_id, folder_id, action_type, source_path, target_path, classification, confidence, status, error_message, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing action insert: %w", err)
		}
		defer stmt.Close()

		for i := range actions {
			a := &actions[i]
			a.BatchID, a.FolderID = batchID, folderID
			if a.Status == "" {
				a.Status = StatusPending
			}
			if a.Timestamp.IsZero() {
				a.Timestamp = timeNow().UTC()
			}
			res, err := stmt.Exec(batchID, folderID, a.Type, a.SourcePath, a.TargetPath,
				a.Classification, a.Confidence, a.Status, a.ErrorMessage, formatTime(a.Timestamp))
			if err != nil {
				return fmt.Errorf("inserting action: %w", err)
			}
			if a.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("reading action id: %w", err)
			}
		}
		return nil
	})
	return wrapWrite("saving actions", err)
}

// UpdateActionStatus changes the status and error message of one action.
func (s *Store) UpdateActionStatus(id int64, status ActionStatus, errMsg string) error {
	res, err := s.db.Exec("UPDATE organisation_actions SET status = ?, error_message = ? WHERE id = ?", status, errMsg, id)
	if err != nil {
		return apperr.Persistence("updating action status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("action", id)
	}
	return nil
}

// ListActions returns the folder's action log in insertion order.
func (s *Store) ListActions(folderID int64) ([]Action, error) {
	return s.queryActions(actionSelect+" WHERE folder_id = ? ORDER BY id", folderID)
}

// ListActionsByBatch returns one batch's actions in insertion order.
func (s *Store) ListActionsByBatch(batchID string) ([]Action, error) {
	actions, err := s.queryActions(actionSelect+" WHERE batch_id = ? ORDER BY id", batchID)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, apperr.NotFound("batch", batchID)
	}
	return actions, nil
}

const actionSelect = `SELECT id, batch_id, folder_id, action_type, source_path, target_path,
	classification, confidence, status, error_message, timestamp FROM organisation_actions`

func (s *Store) queryActions(query string, args ...any) ([]Action, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		var a Action
		var ts string
		if err := rows.Scan(&a.ID, &a.BatchID, &a.FolderID, &a.Type, &a.SourcePath, &a.TargetPath,
			&a.Classification, &a.Confidence, &a.Status, &a.ErrorMessage, &ts); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
