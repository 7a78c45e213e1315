// Package main is the Mitsukeru CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mitsukeru/internal/builder"
	"github.com/hyperjump/mitsukeru/internal/cli"
	"github.com/hyperjump/mitsukeru/internal/config"
	"github.com/hyperjump/mitsukeru/internal/embedding"
	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/scanner"
	"github.com/hyperjump/mitsukeru/internal/search"
	"github.com/hyperjump/mitsukeru/internal/server"
	"github.com/hyperjump/mitsukeru/internal/store"
	"github.com/hyperjump/mitsukeru/internal/watcher"
	"github.com/hyperjump/mitsukeru/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/mitsukeru/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "mitsukeru server" from the project dir uses the
// project's config (including debug).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "build":
		runBuild()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("mitsukeru version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Store   *store.Store
	Gateway embedding.Gateway
	Scanner *scanner.Scanner
}

func (c *Components) Close() {
	if c.Gateway != nil {
		_ = c.Gateway.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	st := store.New(cfg.Storage.DataDir, store.WithLogger(logger))

	var gateway embedding.Gateway
	onnxGateway, err := embedding.NewONNXGateway(
		cfg.Embedding.ModelPath,
		cfg.Embedding.Dimensions,
		cfg.Embedding.MaxImageDim,
		cfg.Embedding.CacheSize,
	)
	if err != nil {
		logger.Warn("ONNX gateway unavailable, falling back to mock embeddings", zap.Error(err))
		gateway = embedding.NewMockGateway(cfg.Embedding.Dimensions)
	} else {
		gateway = onnxGateway
	}

	sc := scanner.New(&cfg.Scan, scanner.WithLogger(logger))
	return &Components{Store: st, Gateway: gateway, Scanner: sc}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	// A missing snapshot is fine at startup; search returns 404 until the
	// first build completes.
	engine, err := search.NewEngine(context.Background(), components.Store, components.Gateway, search.WithLogger(logger))
	if err != nil {
		var unavailable *search.IndexUnavailableError
		if !errors.As(err, &unavailable) {
			logger.Fatal("Failed to load index", zap.Error(err))
		}
		logger.Info("no index snapshot yet; build one with the build endpoint or command")
		engine = nil
	}

	srv := server.NewServer(cfg, components.Store, components.Gateway, components.Scanner, engine, logger)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.Enabled {
		if len(cfg.Scan.Roots) == 0 {
			logger.Warn("watch enabled but no scan roots configured; watch disabled")
		} else {
			watchOpts := []watcher.Option{
				watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMs) * time.Millisecond),
			}
			if debugMode {
				watchOpts = append(watchOpts, watcher.WithLogger(logger))
			}
			watchSvc := watcher.NewWatcher(
				cfg.Scan.Roots,
				cfg.Scan.Extensions,
				cfg.Scan.ExcludedFolders,
				func() {
					if _, err := srv.TriggerRebuild(context.Background(), nil); err != nil {
						if errors.Is(err, builder.ErrBuildInProgress) {
							logger.Debug("watch rebuild skipped, build already running")
							return
						}
						logger.Warn("watch rebuild failed to start", zap.Error(err))
					}
				},
				watchOpts...,
			)
			if err := watchSvc.Start(watchCtx); err != nil {
				logger.Fatal("Failed to start watcher", zap.Error(err))
			}
			defer watchSvc.Stop()
		}
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	all := fs.Bool("all", false, "scan every reachable volume instead of a single root")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var roots []string
	switch {
	case *all:
		roots = scanner.SystemRoots()
	case fs.NArg() >= 1:
		root, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid root: %v\n", err)
			os.Exit(1)
		}
		roots = []string{root}
	case len(cfg.Scan.Roots) > 0:
		roots = cfg.Scan.Roots
	default:
		fmt.Println("Usage: mitsukeru build [flags] <root-directory>")
		fmt.Println("       mitsukeru build --all")
		os.Exit(1)
	}

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	job := builder.NewJob(components.Scanner, components.Gateway, components.Store, roots, builder.WithLogger(logger))

	// Ctrl-C requests a cooperative cancel; a second one kills the process.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nCancelling build...")
		job.Cancel()
		signal.Stop(sigChan)
	}()

	outcomeCh := make(chan *builder.Outcome, 1)
	go func() {
		outcomeCh <- job.Run(context.Background())
	}()
	for p := range job.Events() {
		fmt.Printf("[%3d%%] %s %s\n", p.Percent, p.Stage, p.Message)
	}
	outcome := <-outcomeCh

	for _, f := range outcome.Failures {
		fmt.Fprintf(os.Stderr, "skipped %s: %s\n", f.Path, f.Reason)
	}
	switch outcome.Stage {
	case builder.StageCompleted:
		fmt.Printf("Indexed %d images (%d skipped)\n", outcome.IndexedCount, len(outcome.Failures))
	case builder.StageCancelled:
		fmt.Println("Build cancelled; previous index left untouched")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Build failed: %s\n", outcome.Message)
		os.Exit(1)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = search the local snapshot directly)")
	k := fs.Int("k", 0, "number of results (0 = all indexed images)")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: mitsukeru search [flags] <image-path>")
		os.Exit(1)
	}
	queryPath, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid image path: %v\n", err)
		os.Exit(1)
	}

	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "text":
		format = cli.OutputText
	default:
		fmt.Printf("Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}

	if *serverURL != "" {
		response, err := searchViaHTTP(*serverURL, &models.SearchRequest{QueryPath: queryPath, K: *k})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	engine, err := search.NewEngine(context.Background(), components.Store, components.Gateway, search.WithLogger(logger))
	if err != nil {
		var unavailable *search.IndexUnavailableError
		if errors.As(err, &unavailable) {
			fmt.Fprintln(os.Stderr, "No index found; run \"mitsukeru build <root>\" first")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load index: %v\n", err)
		}
		os.Exit(1)
	}

	response, err := engine.Search(context.Background(), queryPath, *k)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL string, req *models.SearchRequest) (*models.SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	IndexAvailable bool   `json:"index_available"`
	IndexedImages  int    `json:"indexed_images"`
	Dimensions     *int   `json:"dimensions,omitempty"`
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the local snapshot directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		st := store.New(cfg.Storage.DataDir)
		stats, err := st.Stats(context.Background())
		switch {
		case errors.Is(err, store.ErrNotFound):
			// No snapshot yet; report an empty index.
		case err != nil:
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		default:
			status.IndexAvailable = true
			status.IndexedImages = stats.Count
			status.Dimensions = &stats.Dimensions
			status.DiskUsageBytes = &stats.DiskBytes
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("index_available:   %t\n", status.IndexAvailable)
		fmt.Printf("indexed_images:    %d\n", status.IndexedImages)
		if status.Dimensions != nil {
			fmt.Printf("dimensions:        %d\n", *status.Dimensions)
		}
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes:  %d\n", *status.DiskUsageBytes)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func printUsage() {
	fmt.Println(`mitsukeru - Local semantic image search

Usage:
  mitsukeru server [flags]            Start the HTTP server
  mitsukeru build [flags] <root>      Build the index from a directory tree
  mitsukeru search [flags] <image>    Find images similar to the given one
  mitsukeru status [flags]            Show index status
  mitsukeru version                   Show version
  mitsukeru help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/mitsukeru/config.yaml)
  --debug            Enable debug logging

Build Flags:
  --config string    Config file path
  --all              Scan every reachable volume instead of a single root

Search Flags:
  --config string    Config file path (for direct snapshot mode)
  --server string    Server URL (empty = search the local snapshot directly)
  --k int            Number of results (0 = all indexed images)
  --output string    Output format: text or json (default: text)

Status Flags:
  --config string    Config file path (for direct snapshot mode)
  --server string    Server URL (empty = read the local snapshot directly)
  --output string    Output format: text or json (default: text)

Examples:
  mitsukeru build ~/Pictures
  mitsukeru build --all
  mitsukeru search ~/Pictures/sunset.jpg
  mitsukeru search --k 10 --output json query.png
  mitsukeru server
  mitsukeru search --server http://localhost:8080 query.png
  mitsukeru status`)
}
