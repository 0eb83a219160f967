package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/kalambet/smartfile/internal/apperr"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// subtreeCTE selects the ids of folder ? and all of its descendants. UNION
// rather than UNION ALL so a corrupt cyclic link cannot recurse forever.
const subtreeCTE = `WITH RECURSIVE subtree(id) AS (
	SELECT id FROM folders WHERE id = ?
	UNION
	SELECT f.id FROM folders f JOIN subtree s ON f.parent_id = s.id
)`

// UpsertFolder registers path as a folder under parentID (nil for a root) and
// returns its id. The path is the natural key: re-registering an existing
// path updates the row in place, keeping its id so child folders and files
// stay attached. Levels of the whole subtree are recomputed.
func (s *Store) UpsertFolder(path string, parentID *int64) (int64, error) {
	path = filepath.Clean(path)
	var id int64

	err := s.withTx(func(tx *sql.Tx) error {
		level, err := childLevel(tx, parentID)
		if err != nil {
			return err
		}

		var existing int64
		switch err := tx.QueryRow("SELECT id FROM folders WHERE path = ?", path).Scan(&existing); {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("looking up folder: %w", err)
		default:
			if parentID != nil {
				if err := rejectCycle(tx, existing, *parentID); err != nil {
					return err
				}
			}
		}

		err = tx.QueryRow(`
			INSERT INTO folders (path, name, parent_id, level, last_indexed)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				name = excluded.name,
				parent_id = excluded.parent_id,
				level = excluded.level,
				last_indexed = excluded.last_indexed
			RETURNING id`,
			path, filepath.Base(path), parentID, level, formatTime(timeNow()),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("upserting folder: %w", err)
		}

		if existing != 0 {
			return relevelSubtree(tx, id)
		}
		return nil
	})
	if err != nil {
		return 0, wrapWrite("upserting folder "+path, err)
	}
	return id, nil
}

// SetFolderParent re-parents folder id under parentID (nil makes it a root).
// A parent inside the folder's own subtree is rejected with a ConflictError.
func (s *Store) SetFolderParent(id int64, parentID *int64) error {
	err := s.withTx(func(tx *sql.Tx) error {
		if err := folderExists(tx, id); err != nil {
			return err
		}
		level, err := childLevel(tx, parentID)
		if err != nil {
			return err
		}
		if parentID != nil {
			if err := rejectCycle(tx, id, *parentID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec("UPDATE folders SET parent_id = ?, level = ? WHERE id = ?", parentID, level, id); err != nil {
			return fmt.Errorf("updating parent: %w", err)
		}
		return relevelSubtree(tx, id)
	})
	return wrapWrite("re-parenting folder", err)
}

// RemoveFolder deletes the folder and, through cascading foreign keys, every
// descendant folder, their files, chunks, and organisation actions. The whole
// cascade runs in one transaction.
func (s *Store) RemoveFolder(id int64) error {
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM folders WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting folder: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("folder", id)
		}
		return nil
	})
	return wrapWrite("removing folder", err)
}

// GetFolder returns the folder with its recursive file count.
func (s *Store) GetFolder(id int64) (Folder, error) {
	f, err := scanFolder(s.db.QueryRow(folderSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Folder{}, apperr.NotFound("folder", id)
	}
	if err != nil {
		return Folder{}, err
	}
	f.FileCount, err = s.RecursiveFileCount(id)
	return f, err
}

// GetFolderByPath returns the folder registered for path.
func (s *Store) GetFolderByPath(path string) (Folder, error) {
	path = filepath.Clean(path)
	f, err := scanFolder(s.db.QueryRow(folderSelect+" WHERE path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return Folder{}, apperr.NotFound("folder", path)
	}
	if err != nil {
		return Folder{}, err
	}
	f.FileCount, err = s.RecursiveFileCount(f.ID)
	return f, err
}

// RecursiveFileCount returns the number of files in the folder and all of its
// descendants, computed from the live parent links.
func (s *Store) RecursiveFileCount(id int64) (int, error) {
	if err := folderExists(s.db, id); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRow(subtreeCTE+`
		SELECT COUNT(*) FROM files WHERE folder_id IN (SELECT id FROM subtree)`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting files: %w", err)
	}
	return n, nil
}

// ListFolders returns every folder ordered by path, each with its recursive
// file count.
func (s *Store) ListFolders() ([]Folder, error) {
	nodes, order, err := s.loadTree()
	if err != nil {
		return nil, err
	}
	folders := make([]Folder, 0, len(order))
	for _, id := range order {
		folders = append(folders, nodes[id].Folder)
	}
	return folders, nil
}

// FolderHierarchy builds the folder forest from a single read of the folders
// table. With rootID nil it returns every root; otherwise it returns the
// subtree rooted at rootID, or an empty slice if no such folder exists.
func (s *Store) FolderHierarchy(rootID *int64) ([]*FolderNode, error) {
	nodes, order, err := s.loadTree()
	if err != nil {
		return nil, err
	}

	if rootID != nil {
		if n, ok := nodes[*rootID]; ok {
			return []*FolderNode{n}, nil
		}
		return []*FolderNode{}, nil
	}

	roots := []*FolderNode{}
	for _, id := range order {
		n := nodes[id]
		if n.ParentID == nil || nodes[*n.ParentID] == nil {
			roots = append(roots, n)
		}
	}
	return roots, nil
}

// loadTree reads all folders with their direct file counts, links children to
// parents, and fills FileCount with recursive totals.
func (s *Store) loadTree() (map[int64]*FolderNode, []int64, error) {
	rows, err := s.db.Query(`
		SELECT fo.id, fo.path, fo.name, fo.parent_id, fo.level, fo.last_indexed, COUNT(fi.id)
		FROM folders fo LEFT JOIN files fi ON fi.folder_id = fo.id
		GROUP BY fo.id
		ORDER BY fo.path`)
	if err != nil {
		return nil, nil, fmt.Errorf("querying folders: %w", err)
	}
	defer rows.Close()

	nodes := make(map[int64]*FolderNode)
	direct := make(map[int64]int)
	var order []int64
	for rows.Next() {
		var n FolderNode
		var parent sql.NullInt64
		var lastIndexed string
		var count int
		if err := rows.Scan(&n.ID, &n.Path, &n.Name, &parent, &n.Level, &lastIndexed, &count); err != nil {
			return nil, nil, fmt.Errorf("scanning folder: %w", err)
		}
		if parent.Valid {
			n.ParentID = &parent.Int64
		}
		if n.LastIndexed, err = parseTime(lastIndexed); err != nil {
			return nil, nil, err
		}
		n.Children = []*FolderNode{}
		nodes[n.ID] = &n
		direct[n.ID] = count
		order = append(order, n.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating folders: %w", err)
	}

	for _, id := range order {
		n := nodes[id]
		if n.ParentID == nil {
			continue
		}
		if p, ok := nodes[*n.ParentID]; ok {
			p.Children = append(p.Children, n)
		}
	}

	var total func(n *FolderNode, seen map[int64]bool) int
	total = func(n *FolderNode, seen map[int64]bool) int {
		if seen[n.ID] {
			return 0
		}
		seen[n.ID] = true
		sum := direct[n.ID]
		for _, c := range n.Children {
			sum += total(c, seen)
		}
		n.FileCount = sum
		return sum
	}
	for _, id := range order {
		total(nodes[id], make(map[int64]bool))
	}

	for _, n := range nodes {
		sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].Path < n.Children[j].Path })
	}
	return nodes, order, nil
}

const folderSelect = `SELECT id, path, name, parent_id, level, last_indexed FROM folders`

func scanFolder(row *sql.Row) (Folder, error) {
	var f Folder
	var parent sql.NullInt64
	var lastIndexed string
	if err := row.Scan(&f.ID, &f.Path, &f.Name, &parent, &f.Level, &lastIndexed); err != nil {
		return Folder{}, err
	}
	if parent.Valid {
		f.ParentID = &parent.Int64
	}
	t, err := parseTime(lastIndexed)
	if err != nil {
		return Folder{}, err
	}
	f.LastIndexed = t
	return f, nil
}

func folderExists(q querier, id int64) error {
	var one int
	err := q.QueryRow("SELECT 1 FROM folders WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("folder", id)
	}
	return err
}

// childLevel returns the level a folder gets under parentID.
func childLevel(q querier, parentID *int64) (int, error) {
	if parentID == nil {
		return 0, nil
	}
	var level int
	err := q.QueryRow("SELECT level FROM folders WHERE id = ?", *parentID).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("folder", *parentID)
	}
	if err != nil {
		return 0, fmt.Errorf("looking up parent level: %w", err)
	}
	return level + 1, nil
}

// rejectCycle fails when parentID is id itself or one of its descendants.
func rejectCycle(q querier, id, parentID int64) error {
	var n int
	err := q.QueryRow(subtreeCTE+` SELECT COUNT(*) FROM subtree WHERE id = ?`, id, parentID).Scan(&n)
	if err != nil {
		return fmt.Errorf("checking folder cycle: %w", err)
	}
	if n > 0 {
		return apperr.Conflict("folder %d cannot be moved under its own descendant %d", id, parentID)
	}
	return nil
}

// relevelSubtree recomputes level for every descendant of id from id's level.
func relevelSubtree(q querier, id int64) error {
	_, err := q.Exec(`
		WITH RECURSIVE lv(id, level) AS (
			SELECT id, level FROM folders WHERE id = ?
			UNION
			SELECT f.id, lv.level + 1 FROM folders f JOIN lv ON f.parent_id = lv.id
		)
		UPDATE folders SET level = (SELECT level FROM lv WHERE lv.id = folders.id)
		WHERE id IN (SELECT id FROM lv)`, id)
	if err != nil {
		return fmt.Errorf("updating subtree levels: %w", err)
	}
	return nil
}

// wrapWrite tags unexpected write failures as persistence errors while
// letting typed not-found and conflict errors through unchanged.
func wrapWrite(op string, err error) error {
	if err == nil {
		return nil
	}
	var he apperr.HTTPError
	if errors.As(err, &he) {
		return err
	}
	return apperr.Persistence(op, err)
}
