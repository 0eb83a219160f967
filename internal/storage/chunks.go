package storage

import (
	"container/heap"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/smartfile/internal/apperr"
)

// ReplaceChunks supersedes the file's chunk set with chunks in a single
// transaction, so readers see either the old set or the new one.
func (s *Store) ReplaceChunks(fileID int64, chunks []Chunk) error {
	err := s.withTx(func(tx *sql.Tx) error {
		return replaceChunks(tx, fileID, chunks)
	})
	return wrapWrite("replacing chunks", err)
}

// SaveFile upserts the file row and replaces its chunks atomically. It is the
// write the indexer performs for each processed file.
func (s *Store) SaveFile(folderID int64, path string, info FileInfo, chunks []Chunk) (int64, error) {
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		if id, err = upsertFile(tx, folderID, path, info); err != nil {
			return err
		}
		return replaceChunks(tx, id, chunks)
	})
	if err != nil {
		return 0, wrapWrite("saving file "+path, err)
	}
	return id, nil
}

func replaceChunks(tx *sql.Tx, fileID int64, chunks []Chunk) error {
	if _, err := tx.Exec("DELETE FROM chunks WHERE file_id = ?", fileID); err != nil {
		return fmt.Errorf("deleting old chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`INSERT INTO chunks (file_id, chunk_index, content, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.Exec(fileID, c.Index, c.Content, encodeFloat32s(c.Embedding)); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.Index, err)
		}
	}
	return nil
}

// Chunks returns the file's chunks in index order.
func (s *Store) Chunks(fileID int64) ([]Chunk, error) {
	rows, err := s.db.Query(`SELECT id, file_id, chunk_index, content, embedding
		FROM chunks WHERE file_id = ? ORDER BY chunk_index`, fileID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.FileID, &c.Index, &c.Content, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.Embedding, err = decodeFloat32sInto(nil, blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %d: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Search scans every stored chunk, scores it by cosine similarity against
// query, and returns at most limit matches scoring at least threshold,
// ordered by descending score. Equal scores are ordered by chunk id.
func (s *Store) Search(query []float32, limit int, threshold float32) ([]Match, error) {
	if limit <= 0 {
		return []Match{}, nil
	}

	// Phase 1: scan only id + embedding to find the top candidates.
	rows, err := s.db.Query(`SELECT id, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(query)
	h := &idScoreHeap{}

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if buf, err = decodeFloat32sInto(buf, blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %d: %w", id, err)
		}

		score := cosine(query, buf, queryNorm)
		if score < threshold {
			continue
		}
		item := idScore{ID: id, Score: score}
		if h.Len() < limit {
			heap.Push(h, item)
		} else if outranks(item, (*h)[0]) {
			(*h)[0] = item
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	if h.Len() == 0 {
		return []Match{}, nil
	}

	// Phase 2: fetch chunk text and file details for the winners only.
	scores := make(map[int64]float32, h.Len())
	args := make([]any, 0, h.Len())
	for _, item := range *h {
		scores[item.ID] = item.Score
		args = append(args, item.ID)
	}

	full, err := s.db.Query(`
		SELECT c.id, c.file_id, c.chunk_index, c.content, f.file_path, f.file_name, f.file_type, f.last_modified
		FROM chunks c JOIN files f ON f.id = c.file_id
		WHERE c.id IN (?`+strings.Repeat(",?", len(args)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching matches: %w", err)
	}
	defer full.Close()

	matches := make([]Match, 0, len(args))
	for full.Next() {
		var m Match
		var modified string
		if err := full.Scan(&m.ChunkID, &m.FileID, &m.ChunkIndex, &m.Content,
			&m.FilePath, &m.FileName, &m.FileType, &modified); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if m.LastModified, err = parseTime(modified); err != nil {
			return nil, err
		}
		m.Score = scores[m.ChunkID]
		matches = append(matches, m)
	}
	if err := full.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}

	// The IN query doesn't preserve order.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
	return matches, nil
}

// HasChunks reports whether anything has been indexed.
func (s *Store) HasChunks() (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM chunks LIMIT 1").Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperr.Persistence("checking chunks", err)
	}
	return true, nil
}
