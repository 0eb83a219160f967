package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kalambet/smartfile/internal/apperr"
)

// UpsertFile records the file at path as owned by folderID and returns its id.
// Re-indexing the same path updates the existing row rather than adding one.
func (s *Store) UpsertFile(folderID int64, path string, info FileInfo) (int64, error) {
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		id, err = upsertFile(tx, folderID, path, info)
		return err
	})
	if err != nil {
		return 0, wrapWrite("upserting file "+path, err)
	}
	return id, nil
}

func upsertFile(tx *sql.Tx, folderID int64, path string, info FileInfo) (int64, error) {
	if err := folderExists(tx, folderID); err != nil {
		return 0, err
	}
	path = filepath.Clean(path)
	if info.Name == "" {
		info.Name = filepath.Base(path)
	}
	if info.Type == "" {
		info.Type = strings.ToLower(filepath.Ext(path))
	}
	var id int64
	err := tx.QueryRow(`
		INSERT INTO files (folder_id, file_path, file_name, file_type, file_size, last_modified, content_hash, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			folder_id = excluded.folder_id,
			file_name = excluded.file_name,
			file_type = excluded.file_type,
			file_size = excluded.file_size,
			last_modified = excluded.last_modified,
			content_hash = excluded.content_hash,
			indexed_at = excluded.indexed_at
		RETURNING id`,
		folderID, path, info.Name, info.Type, info.Size,
		formatTime(info.LastModified), info.ContentHash, formatTime(timeNow()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting file: %w", err)
	}
	return id, nil
}

// GetFile returns the file with the given id.
func (s *Store) GetFile(id int64) (File, error) {
	files, err := s.queryFiles(fileSelect+" WHERE f.id = ?", id)
	if err != nil {
		return File{}, err
	}
	if len(files) == 0 {
		return File{}, apperr.NotFound("file", id)
	}
	return files[0], nil
}

// GetFileByPath returns the file indexed at path.
func (s *Store) GetFileByPath(path string) (File, error) {
	files, err := s.queryFiles(fileSelect+" WHERE f.file_path = ?", filepath.Clean(path))
	if err != nil {
		return File{}, err
	}
	if len(files) == 0 {
		return File{}, apperr.NotFound("file", path)
	}
	return files[0], nil
}

// ListFiles returns every indexed file ordered by path.
func (s *Store) ListFiles() ([]File, error) {
	return s.queryFiles(fileSelect + " ORDER BY f.file_path")
}

// ListFilesInFolder returns the files owned directly by the folder, without
// descending into subfolders.
func (s *Store) ListFilesInFolder(folderID int64) ([]File, error) {
	if err := folderExists(s.db, folderID); err != nil {
		return nil, err
	}
	return s.queryFiles(fileSelect+" WHERE f.folder_id = ? ORDER BY f.file_path", folderID)
}

// FilesUnderFolder returns the files of the folder and of every descendant
// folder at any depth, following the current parent links.
func (s *Store) FilesUnderFolder(folderID int64) ([]File, error) {
	if err := folderExists(s.db, folderID); err != nil {
		return nil, err
	}
	return s.queryFiles(subtreeCTE+" "+fileSelect+
		" WHERE f.folder_id IN (SELECT id FROM subtree) ORDER BY f.file_path", folderID)
}

// FileContent returns the file's stored text: its chunks joined in order.
// Adjacent chunks overlap, so shared text appears twice.
func (s *Store) FileContent(fileID int64) (string, error) {
	rows, err := s.db.Query("SELECT content FROM chunks WHERE file_id = ? ORDER BY chunk_index", fileID)
	if err != nil {
		return "", fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return "", fmt.Errorf("scanning chunk: %w", err)
		}
		parts = append(parts, c)
	}
	return strings.Join(parts, "\n"), rows.Err()
}

// UpdateFileLocation records that the file now lives at newPath inside folderID.
func (s *Store) UpdateFileLocation(fileID int64, newPath string, folderID int64) error {
	newPath = filepath.Clean(newPath)
	err := s.withTx(func(tx *sql.Tx) error {
		if err := folderExists(tx, folderID); err != nil {
			return err
		}
		res, err := tx.Exec("UPDATE files SET file_path = ?, file_name = ?, folder_id = ? WHERE id = ?",
			newPath, filepath.Base(newPath), folderID, fileID)
		if err != nil {
			return fmt.Errorf("updating file location: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("file", fileID)
		}
		return nil
	})
	return wrapWrite("updating file location", err)
}

// UpdateFileLocationByPath renames the file row at oldPath to newPath. When a
// folder is registered for newPath's directory the file moves to it;
// otherwise its owning folder is unchanged.
func (s *Store) UpdateFileLocationByPath(oldPath, newPath string) error {
	oldPath, newPath = filepath.Clean(oldPath), filepath.Clean(newPath)
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE files SET
				file_path = ?,
				file_name = ?,
				folder_id = COALESCE((SELECT id FROM folders WHERE path = ?), folder_id)
			WHERE file_path = ?`,
			newPath, filepath.Base(newPath), filepath.Dir(newPath), oldPath)
		if err != nil {
			return fmt.Errorf("updating file location: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("file", oldPath)
		}
		return nil
	})
	return wrapWrite("updating file location", err)
}

// DeleteFileByPath removes the file row at path together with its chunks.
// A missing row is not an error.
func (s *Store) DeleteFileByPath(path string) error {
	_, err := s.db.Exec("DELETE FROM files WHERE file_path = ?", filepath.Clean(path))
	return apperr.Persistence("deleting file", err)
}

const fileSelect = `SELECT f.id, f.folder_id, f.file_path, f.file_name, f.file_type, f.file_size,
	f.last_modified, f.content_hash, f.indexed_at, fo.path,
	(SELECT COUNT(*) FROM chunks c WHERE c.file_id = f.id)
	FROM files f JOIN folders fo ON fo.id = f.folder_id`

func (s *Store) queryFiles(query string, args ...any) ([]File, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	files := []File{}
	for rows.Next() {
		var f File
		var modified, indexed string
		if err := rows.Scan(&f.ID, &f.FolderID, &f.Path, &f.Name, &f.Type, &f.Size,
			&modified, &f.ContentHash, &indexed, &f.FolderPath, &f.ChunkCount); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		if f.LastModified, err = parseTime(modified); err != nil {
			return nil, err
		}
		if f.IndexedAt, err = parseTime(indexed); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating files: %w", err)
	}
	return files, nil
}
