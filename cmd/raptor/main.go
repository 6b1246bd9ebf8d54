package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/raptorlabs/raptor-mcp/internal/config"
	"github.com/raptorlabs/raptor-mcp/internal/index"
	"github.com/raptorlabs/raptor-mcp/internal/mcp"
	"github.com/raptorlabs/raptor-mcp/internal/retriever"
	"github.com/raptorlabs/raptor-mcp/internal/storage"
	"github.com/raptorlabs/raptor-mcp/internal/watcher"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath string
	dbPath     string
)

func main() {
	// Optional .env for API keys; a missing file is fine.
	_ = godotenv.Load()

	// stdout is reserved for the MCP protocol in serve mode.
	log.SetOutput(os.Stderr)

	root := &cobra.Command{
		Use:           "raptor",
		Short:         "Hierarchical retrieval index with an MCP server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to raptor.yaml (default: ./raptor.yaml, then ~/.config/raptor/config.yaml)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite snapshot path (overrides config; empty disables persistence)")

	root.AddCommand(serveCmd(), indexCmd(), queryCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var (
		watchDir string
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger := log.New(os.Stderr, "", log.LstdFlags)
			logger.Printf("raptor v%s starting (driver=%s mode=%s)", version, storage.DriverName, storage.BuildMode)

			srv, err := mcp.NewServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			if watchDir != "" {
				if err := startWatcher(ctx, srv.Index(), watchDir, debounce, logger); err != nil {
					return err
				}
			}

			errChan := make(chan error, 1)
			go func() {
				logger.Println("MCP server ready, listening on stdio...")
				errChan <- srv.Serve(ctx)
			}()

			select {
			case sig := <-sigChan:
				logger.Printf("received signal %v, shutting down", sig)
				cancel()
			case err := <-errChan:
				if err != nil {
					return fmt.Errorf("server error: %v", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&watchDir, "watch", "", "corpus directory to watch; changes trigger incremental updates")
	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounce, "quiet period before a change batch is applied")
	return cmd
}

// startWatcher registers the corpus tree with a filesystem watcher and
// feeds each debounced change batch into an incremental update. The
// update rescans the whole corpus; the batch only tells us it is stale.
func startWatcher(ctx context.Context, idx *index.Index, dir string, debounce time.Duration, logger *log.Logger) error {
	w, err := watcher.New(debounce, logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %v", err)
	}

	dirs, err := mcp.WatchDirs(dir)
	if err != nil {
		return fmt.Errorf("failed to scan watch directory: %v", err)
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			logger.Printf("watch %s: %v", d, err)
		}
	}

	go func() {
		if err := w.Run(ctx); err != nil {
			logger.Printf("watcher stopped: %v", err)
		}
	}()
	go func() {
		for batch := range w.Batches() {
			logger.Printf("corpus changed (%d paths), updating index", len(batch))
			files, warnings, err := mcp.LoadCorpus(dir)
			if err != nil {
				logger.Printf("corpus rescan failed: %v", err)
				continue
			}
			for _, warn := range warnings {
				logger.Printf("corpus: %s", warn)
			}
			stats, err := idx.Update(ctx, files)
			if err != nil {
				logger.Printf("update failed: %v", err)
				continue
			}
			logger.Printf("update done: +%d ~%d -%d files, %d nodes rebuilt in %s",
				stats.FilesAdded, stats.FilesModified, stats.FilesDeleted,
				stats.NodesRebuilt, stats.Duration.Round(time.Millisecond))
		}
	}()

	logger.Printf("watching %s (%d directories)", dir, len(dirs))
	return nil
}

func indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <dir>",
		Short: "Build the index over a directory and persist the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := log.New(os.Stderr, "", log.LstdFlags)

			idx, err := newIndex(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()

			files, warnings, err := mcp.LoadCorpus(args[0])
			if err != nil {
				return fmt.Errorf("corpus scan failed: %v", err)
			}
			for _, warn := range warnings {
				logger.Printf("corpus: %s", warn)
			}

			stats, err := idx.Build(cmd.Context(), files)
			if err != nil {
				return err
			}
			for _, warn := range stats.Warnings {
				logger.Printf("build: %s", warn)
			}
			fmt.Printf("Indexed %d files: %d nodes (%d leaves), depth %d, in %s\n",
				stats.FilesIndexed, stats.NodeCount, stats.LeafCount,
				stats.Depth, stats.Duration.Round(time.Millisecond))
			if cfg.DBPath == "" {
				fmt.Println("Note: no --db path set, snapshot was not persisted")
			}
			return nil
		},
	}
}

func queryCmd() *cobra.Command {
	var (
		topK   int
		levels []int
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search a persisted index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("query needs a persisted snapshot; set --db or db_path in config")
			}
			logger := log.New(os.Stderr, "", log.LstdFlags)

			idx, err := newIndex(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()

			if err := idx.Restore(cmd.Context()); err != nil {
				return fmt.Errorf("failed to load snapshot: %v", err)
			}

			results, err := idx.Query(cmd.Context(), retriever.Request{
				Query:  strings.Join(args, " "),
				TopK:   topK,
				Levels: levels,
			})
			if err != nil {
				return err
			}

			for i, r := range results {
				fmt.Printf("%2d. [L%d] score=%.4f  %s\n", i+1, r.Level, r.Score, strings.Join(r.SourcePaths, ", "))
				fmt.Printf("    %s\n", firstLine(r.Text, 160))
			}
			if len(results) == 0 {
				fmt.Println("No results.")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", retriever.DefaultTopK, "maximum number of results")
	cmd.Flags().IntSliceVar(&levels, "levels", nil, "restrict results to these tree levels")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("raptor %s\n", version)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Build Mode: %s\n", storage.BuildMode)
			fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		},
	}
}

func newIndex(cfg *config.Config, logger *log.Logger) (*index.Index, error) {
	var persister index.Persister
	if cfg.DBPath != "" {
		store, err := storage.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %v", cfg.DBPath, err)
		}
		persister = store
	}
	return index.New(cfg, persister, logger)
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
