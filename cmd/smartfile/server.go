package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/smartfile/internal/answer"
	"github.com/kalambet/smartfile/internal/api"
	"github.com/kalambet/smartfile/internal/chunker"
	"github.com/kalambet/smartfile/internal/composer"
	"github.com/kalambet/smartfile/internal/config"
	"github.com/kalambet/smartfile/internal/engine"
	"github.com/kalambet/smartfile/internal/extract"
	"github.com/kalambet/smartfile/internal/indexer"
	"github.com/kalambet/smartfile/internal/organiser"
	"github.com/kalambet/smartfile/internal/retrieval"
	"github.com/kalambet/smartfile/internal/storage"
	"github.com/kalambet/smartfile/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the smartfile server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running smartfile server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "smartfile.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

// newGenerator picks the answer backend named by answer.provider.
func newGenerator(cfg config.Config, eng engine.Engine, logger *slog.Logger) answer.Generator {
	if cfg.Answer.Provider == "ollama" {
		return answer.NewLocalGenerator(eng, cfg.Answer.LocalModel, logger)
	}
	if cfg.Answer.APIKey == "" {
		logger.Warn("no answer API key configured; questions will return setup instructions")
	}
	return answer.NewGeminiClient(cfg.Answer.APIKey,
		answer.WithBaseURL(cfg.Answer.BaseURL),
		answer.WithModel(cfg.Answer.Model),
		answer.WithTimeout(cfg.AnswerTimeout()),
		answer.WithRateLimit(cfg.Answer.RequestsPerSecond),
		answer.WithLogger(logger),
	)
}

// watchIndexedFolders starts a watcher over every root folder already in the
// store and over each folder a later run indexes.
func watchIndexedFolders(store *storage.Store, runner *indexer.Runner, logger *slog.Logger) (*watch.Watcher, error) {
	w, err := watch.New(runner, watch.WithRemover(store), watch.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	roots, err := store.FolderHierarchy(nil)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("listing folders to watch: %w", err)
	}
	for _, r := range roots {
		if err := w.Add(r.Path); err != nil {
			logger.Warn("cannot watch folder", "path", r.Path, "error", err)
		}
	}
	runner.OnFinish = func(st indexer.Status) {
		for _, p := range st.Folders {
			if err := w.Add(p); err != nil {
				logger.Warn("cannot watch folder", "path", p, "error", err)
			}
		}
	}
	return w, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "smartfile version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + cfg.Addr() + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("smartfile is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("smartfile is already running on %s", cfg.Addr())
		return fmt.Errorf("server already running on %s", cfg.Addr())
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The embedding model is required; the chat model only for local answers.
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	chatModel := ""
	if cfg.Answer.Provider == "ollama" {
		chatModel = cfg.Answer.LocalModel
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Ollama.EmbedModel, chatModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	retriever := retrieval.NewRetriever(embedder, store)

	ix := indexer.New(store, extract.NewRegistry(logger), embedder,
		indexer.WithSplitter(chunker.New(
			chunker.WithChunkSize(cfg.Indexing.ChunkSize),
			chunker.WithOverlap(cfg.Indexing.ChunkOverlap),
		)),
		indexer.WithFileTimeout(cfg.FileTimeout()),
		indexer.WithSkipUnchanged(cfg.Indexing.SkipUnchanged),
		indexer.WithLogger(logger),
	)
	runner := indexer.NewRunner(ix, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := runner.Reset(shutdownCtx, nil); err != nil {
			logger.Warn("indexing run did not stop in time", "error", err)
		}
	}()

	asker := answer.NewService(retriever, store, composer.New(0), newGenerator(cfg, eng, logger), logger)
	org := organiser.New(store, organiser.WithLogger(logger))

	if cfg.Indexing.Watch {
		w, err := watchIndexedFolders(store, runner, logger)
		if err != nil {
			return fmt.Errorf("starting folder watcher: %w", err)
		}
		defer w.Close()
		logger.Info("folder watcher started", "folders", len(w.Roots()))
	}

	handler := api.NewHandler(api.Deps{
		Store:           store,
		Indexer:         runner,
		Searcher:        retriever,
		Asker:           asker,
		Organiser:       org,
		SearchLimit:     cfg.Search.Limit,
		SearchThreshold: float32(cfg.Search.Threshold),
		Token:           cfg.Server.APIToken,
		CORSOrigins:     cfg.CORSOriginList(),
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:           store,
			Searcher:        retriever,
			Asker:           asker,
			Indexer:         runner,
			SearchLimit:     cfg.Search.Limit,
			SearchThreshold: float32(cfg.Search.Threshold),
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("smartfile listening", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("smartfile is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop smartfile (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to smartfile (PID %d)", pid)
	return nil
}
