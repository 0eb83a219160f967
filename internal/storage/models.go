package storage

import "time"

// Folder is an indexed directory. FileCount is derived at read time and
// includes files in every descendant folder.
type Folder struct {
	ID          int64
	Path        string
	Name        string
	ParentID    *int64
	Level       int
	LastIndexed time.Time
	FileCount   int
}

// FolderNode is a Folder together with its child folders.
type FolderNode struct {
	Folder
	Children []*FolderNode
}

// FileInfo carries the filesystem attributes recorded for a file.
type FileInfo struct {
	Name         string
	Type         string
	Size         int64
	LastModified time.Time
	ContentHash  string
}

// File is an indexed file owned by exactly one Folder.
type File struct {
	ID       int64
	FolderID int64
	Path     string
	FileInfo
	IndexedAt time.Time

	// Populated by listing queries only.
	FolderPath string
	ChunkCount int
}

// Chunk is a piece of a file's extracted text together with its embedding.
type Chunk struct {
	ID        int64
	FileID    int64
	Index     int
	Content   string
	Embedding []float32
}

// Match is a chunk returned by Search with its cosine similarity.
type Match struct {
	ChunkID      int64
	FileID       int64
	FilePath     string
	FileName     string
	FileType     string
	LastModified time.Time
	ChunkIndex   int
	Content      string
	Score        float32
}

// ActionType identifies what an organisation action did.
type ActionType string

const (
	ActionMove         ActionType = "move"
	ActionCreateFolder ActionType = "create_folder"
)

// ActionStatus is the lifecycle state of an organisation action.
type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusCompleted  ActionStatus = "completed"
	StatusFailed     ActionStatus = "failed"
	StatusRolledBack ActionStatus = "rolled_back"
)

// Action is one entry of the append-only reorganisation log.
type Action struct {
	ID             int64        `json:"id"`
	BatchID        string       `json:"batch_id"`
	FolderID       int64        `json:"folder_id"`
	Type           ActionType   `json:"action_type"`
	SourcePath     string       `json:"source_path"`
	TargetPath     string       `json:"target_path"`
	Classification string       `json:"classification,omitempty"`
	Confidence     float64      `json:"confidence,omitempty"`
	Status         ActionStatus `json:"status"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Stats summarises the database contents for debugging.
type Stats struct {
	DatabasePath string
	Folders      int
	Files        int
	Chunks       int
	FileTypes    map[string]int
	RecentFiles  []File
}
