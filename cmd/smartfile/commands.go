package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/smartfile/internal/answer"
	"github.com/kalambet/smartfile/internal/api"
	"github.com/kalambet/smartfile/internal/config"
	"github.com/kalambet/smartfile/internal/indexer"
	"github.com/kalambet/smartfile/internal/organiser"
	"github.com/kalambet/smartfile/internal/storage"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and indexing status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/health")
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			var health struct {
				Status         string `json:"status"`
				IndexedFolders int    `json:"indexed_folders"`
			}
			if err := decodeJSON(resp, &health); err != nil {
				printStatus("Server", "error (%v)", err)
			} else {
				printStatus("Server", "%s on %s", health.Status, cfg.Addr())
				printStatus("Folders", "%d indexed", health.IndexedFolders)
			}

			if resp, err := client.get(cmd.Context(), "/api/index/status"); err == nil {
				var st indexer.Status
				if decodeJSON(resp, &st) == nil {
					printIndexStatus(st)
				}
			}
		}

		printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
		switch cfg.Answer.Provider {
		case "ollama":
			printStatus("Answers", "ollama (%s)", cfg.Answer.LocalModel)
		default:
			key := "no API key"
			if cfg.Answer.APIKey != "" {
				key = "API key set"
			}
			printStatus("Answers", "%s (%s, %s)", cfg.Answer.Provider, cfg.Answer.Model, key)
		}
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

func printIndexStatus(st indexer.Status) {
	switch {
	case st.IsIndexing:
		printStatus("Indexing", "%d%% (%d/%d files) %s", st.Progress, st.ProcessedFiles, st.TotalFiles, st.CurrentFile)
	case st.RunID == "":
		printStatus("Indexing", "idle")
	default:
		printStatus("Indexing", "last run finished %s: %d files, %d failed",
			st.FinishedAt.Local().Format(time.DateTime), st.ProcessedFiles, st.FailedFiles)
		if st.LastError != "" {
			printStatus("Last error", "%s", st.LastError)
		}
	}
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index <folder>...",
	Short: "Index one or more folders",
	Long: `Index one or more folders in the background.

Examples:
  smartfile index ~/Documents
  smartfile index ~/Documents ~/Notes --wait`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		paths := make([]string, len(args))
		for i, a := range args {
			abs, err := filepath.Abs(a)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", a, err)
			}
			paths[i] = abs
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/index", map[string]any{"folder_paths": paths})
		if err != nil {
			return err
		}
		var result struct {
			Message string `json:"message"`
			RunID   string `json:"run_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s", result.Message)
		if !wait {
			return nil
		}

		for {
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(time.Second):
			}
			resp, err := client.get(cmd.Context(), "/api/index/status")
			if err != nil {
				return err
			}
			var st indexer.Status
			if err := decodeJSON(resp, &st); err != nil {
				return err
			}
			if st.IsIndexing {
				printStep("%3d%% %s", st.Progress, st.CurrentFile)
				continue
			}
			if st.LastError != "" {
				return fmt.Errorf("indexing failed: %s", st.LastError)
			}
			printSuccess("Indexed %d files (%d failed)", st.ProcessedFiles, st.FailedFiles)
			return nil
		}
	},
}

func init() {
	indexCmd.Flags().Bool("wait", false, "wait for the run to finish, printing progress")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over indexed files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"query": strings.Join(args, " ")}
		if cmd.Flags().Changed("limit") {
			limit, _ := cmd.Flags().GetInt("limit")
			body["limit"] = limit
		}
		if cmd.Flags().Changed("threshold") {
			threshold, _ := cmd.Flags().GetFloat64("threshold")
			body["threshold"] = threshold
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/search", body)
		if err != nil {
			return err
		}
		var result api.SearchResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Message != "" {
			printWarning("%s", result.Message)
			return nil
		}
		if len(result.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, r := range result.Results {
			fmt.Printf("\n%s %s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), r.FilePath, r.SimilarityScore)
			fmt.Printf("   %s\n", truncate(r.Content, 300))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().Float64("threshold", 0.3, "minimum similarity score")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about your indexed files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/query", map[string]any{"question": strings.Join(args, " ")})
		if err != nil {
			return err
		}
		var result answer.Response
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)
		if len(result.Sources) > 0 {
			fmt.Printf("\n%s\n", colorize(colorBold, "Sources:"))
			for _, s := range result.Sources {
				fmt.Printf("  %s [%.3f]\n", s.FilePath, s.SimilarityScore)
			}
		}
		return nil
	},
}

// --- folders / files ---

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List indexed folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, _ := cmd.Flags().GetBool("tree")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if tree {
			resp, err := client.get(cmd.Context(), "/api/folders/tree")
			if err != nil {
				return err
			}
			var roots []api.FolderTree
			if err := decodeJSON(resp, &roots); err != nil {
				return err
			}
			if len(roots) == 0 {
				fmt.Println("No folders indexed.")
				return nil
			}
			for _, r := range roots {
				printTree(r, 0)
			}
			return nil
		}

		resp, err := client.get(cmd.Context(), "/api/folders")
		if err != nil {
			return err
		}
		var folders []api.FolderInfo
		if err := decodeJSON(resp, &folders); err != nil {
			return err
		}
		if len(folders) == 0 {
			fmt.Println("No folders indexed.")
			return nil
		}
		for _, f := range folders {
			fmt.Printf("%s  %s  %d files  %s\n",
				colorize(colorCyan, fmt.Sprintf("%4d", f.ID)), f.Path, f.FileCount, f.LastIndexed)
		}
		return nil
	},
}

func printTree(n api.FolderTree, depth int) {
	fmt.Printf("%s%s %s (%d files)\n",
		strings.Repeat("  ", depth), colorize(colorCyan, fmt.Sprintf("[%d]", n.ID)), n.Name, n.FileCount)
	for _, c := range n.Children {
		printTree(c, depth+1)
	}
}

func init() {
	foldersCmd.Flags().Bool("tree", false, "show the folder hierarchy")
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List indexed files",
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, _ := cmd.Flags().GetInt64("folder")
		recursive, _ := cmd.Flags().GetBool("recursive")

		path := "/api/files"
		if folder > 0 {
			path = fmt.Sprintf("/api/folders/%d/files?recursive=%t", folder, recursive)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var result struct {
			Files []api.FileInfo `json:"files"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Files) == 0 {
			fmt.Println("No files indexed.")
			return nil
		}
		for _, f := range result.Files {
			fmt.Printf("%s  %s  %d chunks\n", colorize(colorCyan, fmt.Sprintf("%5d", f.ID)), f.FilePath, f.ChunkCount)
		}
		return nil
	},
}

func init() {
	filesCmd.Flags().Int64("folder", 0, "only list files of this folder id")
	filesCmd.Flags().Bool("recursive", false, "with --folder, include subfolders")
}

var removeFolderCmd = &cobra.Command{
	Use:   "remove-folder <folder-id>",
	Short: "Remove a folder, its subfolders, and their files from the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseFolderID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), fmt.Sprintf("/api/folders/%d", id))
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Removed folder %d", id)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the whole index",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL indexed folders and files. Use --confirm to proceed.")
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/api/index/clear")
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Index cleared")
		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("confirm", false, "confirm clearing the index")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func parseFolderID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid folder id %q", s)
	}
	return id, nil
}

// --- organise ---

var organiseCmd = &cobra.Command{
	Use:     "organise",
	Aliases: []string{"organize"},
	Short:   "Reorganise an indexed folder into category subfolders",
}

var organiseAnalyzeCmd = &cobra.Command{
	Use:   "analyze <folder-id>",
	Short: "Propose a reorganisation without touching any file",
	Long: `Classify every file under the folder and show the proposed structure.

Save the plan with --format yaml --output plan.yaml, edit it, and pass it to
"organise execute --plan plan.yaml".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseFolderID(args[0])
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		analysis, err := fetchAnalysis(cmd, id)
		if err != nil {
			return err
		}

		if format == "text" {
			printAnalysis(analysis)
			return nil
		}

		w := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		// Only the classifications are needed to execute the plan.
		if err := writeFormatted(w, analysis.Classifications, format); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Plan written to %s", output)
		}
		return nil
	},
}

func fetchAnalysis(cmd *cobra.Command, folderID int64) (organiser.Analysis, error) {
	client, err := newAPIClient()
	if err != nil {
		return organiser.Analysis{}, err
	}
	resp, err := client.post(cmd.Context(), "/api/organise/analyze", map[string]any{"folder_id": folderID, "dry_run": true})
	if err != nil {
		return organiser.Analysis{}, err
	}
	var result struct {
		Analysis organiser.Analysis `json:"analysis"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return organiser.Analysis{}, err
	}
	return result.Analysis, nil
}

func printAnalysis(a organiser.Analysis) {
	printStep("%s", a.Message)
	folders := make([]string, 0, len(a.SuggestedStructure))
	for name := range a.SuggestedStructure {
		folders = append(folders, name)
	}
	sort.Strings(folders)
	for _, name := range folders {
		files := a.SuggestedStructure[name]
		fmt.Printf("\n%s (%d)\n", colorize(colorBold, name), len(files))
		for _, f := range files {
			fmt.Printf("  %s\n", f)
		}
	}
}

var organiseExecuteCmd = &cobra.Command{
	Use:   "execute <folder-id>",
	Short: "Move files into their suggested folders",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseFolderID(args[0])
		if err != nil {
			return err
		}
		confirm, _ := cmd.Flags().GetBool("confirm")
		plan, _ := cmd.Flags().GetString("plan")

		var classifications []organiser.Classification
		if plan != "" {
			if err := readPlan(plan, &classifications); err != nil {
				return err
			}
		} else {
			analysis, err := fetchAnalysis(cmd, id)
			if err != nil {
				return err
			}
			classifications = analysis.Classifications
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/organise/execute", map[string]any{
			"folder_id":       id,
			"classifications": classifications,
			"confirm":         confirm,
		})
		if err != nil {
			return err
		}
		var result organiser.Result
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if !confirm {
			printWarning("%s: %d files would be moved. Use --confirm to proceed.", result.Message, result.ActionsNeeded)
			return nil
		}
		for _, a := range result.Actions {
			if a.Status == storage.StatusFailed {
				printError("%s: %s", a.SourcePath, a.ErrorMessage)
			}
		}
		printSuccess("%s", result.Message)
		printStatus("Batch", "%s (undo with: smartfile organise rollback %s)", result.BatchID, result.BatchID)
		return nil
	},
}

var organiseRollbackCmd = &cobra.Command{
	Use:   "rollback <batch-id>",
	Short: "Undo the moves of an organisation batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/organise/rollback", map[string]any{"batch_id": args[0]})
		if err != nil {
			return err
		}
		var result struct {
			Rollback organiser.RollbackResult `json:"rollback"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result.Rollback.Failed > 0 {
			printWarning("Restored %d files, %d could not be restored", result.Rollback.RolledBack, result.Rollback.Failed)
			return nil
		}
		printSuccess("Restored %d files", result.Rollback.RolledBack)
		return nil
	},
}

var organiseActionsCmd = &cobra.Command{
	Use:   "actions <folder-id>",
	Short: "Show the organisation log of a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseFolderID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/organise/actions?folder_id="+url.QueryEscape(strconv.FormatInt(id, 10)))
		if err != nil {
			return err
		}
		var result struct {
			Actions []storage.Action `json:"actions"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Actions) == 0 {
			fmt.Println("No actions recorded.")
			return nil
		}
		for _, a := range result.Actions {
			fmt.Printf("%s  %-13s %-11s %s -> %s\n",
				colorize(colorCyan, shortID(a.BatchID)), a.Type, a.Status, a.SourcePath, a.TargetPath)
		}
		return nil
	},
}

func init() {
	organiseAnalyzeCmd.Flags().String("format", "text", "output format: text, json, or yaml")
	organiseAnalyzeCmd.Flags().String("output", "", "write the plan to a file instead of stdout")
	organiseExecuteCmd.Flags().Bool("confirm", false, "actually move the files")
	organiseExecuteCmd.Flags().String("plan", "", "JSON or YAML plan produced by organise analyze")

	organiseCmd.AddCommand(organiseAnalyzeCmd)
	organiseCmd.AddCommand(organiseExecuteCmd)
	organiseCmd.AddCommand(organiseRollbackCmd)
	organiseCmd.AddCommand(organiseActionsCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
