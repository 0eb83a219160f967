package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kalambet/smartfile/internal/storage"
)

// FolderInfo is the API view of an indexed folder.
type FolderInfo struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	ParentID    *int64 `json:"parent_id"`
	Level       int    `json:"level"`
	FileCount   int    `json:"file_count"`
	LastIndexed string `json:"last_indexed"`
}

// FolderTree is a FolderInfo with its children.
type FolderTree struct {
	FolderInfo
	Children []FolderTree `json:"children"`
}

// FileInfo is the API view of an indexed file.
type FileInfo struct {
	ID           int64  `json:"id"`
	FolderID     int64  `json:"folder_id"`
	FolderPath   string `json:"folder_path,omitempty"`
	FilePath     string `json:"file_path"`
	FileName     string `json:"file_name"`
	FileType     string `json:"file_type"`
	FileSize     int64  `json:"file_size"`
	LastModified string `json:"last_modified"`
	IndexedAt    string `json:"indexed_at"`
	ChunkCount   int    `json:"chunk_count"`
}

func folderInfo(f storage.Folder) FolderInfo {
	return FolderInfo{
		ID:          f.ID,
		Path:        f.Path,
		Name:        f.Name,
		ParentID:    f.ParentID,
		Level:       f.Level,
		FileCount:   f.FileCount,
		LastIndexed: f.LastIndexed.Format(time.RFC3339),
	}
}

func folderTree(nodes []*storage.FolderNode) []FolderTree {
	out := make([]FolderTree, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, FolderTree{FolderInfo: folderInfo(n.Folder), Children: folderTree(n.Children)})
	}
	return out
}

func fileInfos(files []storage.File) []FileInfo {
	out := make([]FileInfo, len(files))
	for i, f := range files {
		out[i] = FileInfo{
			ID:           f.ID,
			FolderID:     f.FolderID,
			FolderPath:   f.FolderPath,
			FilePath:     f.Path,
			FileName:     f.Name,
			FileType:     f.Type,
			FileSize:     f.Size,
			LastModified: f.LastModified.Format(time.RFC3339),
			IndexedAt:    f.IndexedAt.Format(time.RFC3339),
			ChunkCount:   f.ChunkCount,
		}
	}
	return out
}

func handleListFiles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := deps.Store.ListFiles()
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "files": fileInfos(files)})
	}
}

func handleListFolders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		folders, err := deps.Store.ListFolders()
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]FolderInfo, len(folders))
		for i, f := range folders {
			out[i] = folderInfo(f)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleFolderTree(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rootID *int64
		if s := r.URL.Query().Get("root"); s != "" {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid root folder id %q", s)
				return
			}
			rootID = &id
		}
		nodes, err := deps.Store.FolderHierarchy(rootID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, folderTree(nodes))
	}
}

func handleFolderFiles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeErr(w, err)
			return
		}
		if _, err := deps.Store.GetFolder(id); err != nil {
			writeErr(w, err)
			return
		}

		recursive, _ := strconv.ParseBool(r.URL.Query().Get("recursive"))
		var files []storage.File
		if recursive {
			files, err = deps.Store.FilesUnderFolder(id)
		} else {
			files, err = deps.Store.ListFilesInFolder(id)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"folder_id": id,
			"recursive": recursive,
			"files":     fileInfos(files),
		})
	}
}

func handleRemoveFolder(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeErr(w, err)
			return
		}
		if err := deps.Store.RemoveFolder(id); err != nil {
			writeErr(w, err)
			return
		}
		deps.logger().Info("folder removed", "id", id)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Folder removed successfully"})
	}
}

type debugStats struct {
	DatabasePath string         `json:"database_path"`
	Folders      int            `json:"folders"`
	Files        int            `json:"files"`
	Chunks       int            `json:"chunks"`
	FileTypes    map[string]int `json:"file_types"`
	RecentFiles  []FileInfo     `json:"recent_files"`
}

func handleDebugStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Store.Stats()
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"stats": debugStats{
				DatabasePath: st.DatabasePath,
				Folders:      st.Folders,
				Files:        st.Files,
				Chunks:       st.Chunks,
				FileTypes:    st.FileTypes,
				RecentFiles:  fileInfos(st.RecentFiles),
			},
		})
	}
}
