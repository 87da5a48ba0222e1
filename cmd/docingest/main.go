package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"docingest/internal/app"
	"docingest/internal/bootstrap"
	"docingest/internal/config"
	"docingest/internal/model"
	httptransport "docingest/internal/transport/http"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docingest",
		Usage: "Extract, chunk, embed and index documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "document",
				Usage:     "Ingest a single document",
				ArgsUsage: "<path>",
				Action:    documentCommand,
				Flags: append(processingFlags(),
					&cli.StringFlag{Name: "name", Usage: "Display name (defaults to the file name)"},
					&cli.StringFlag{Name: "user", Usage: "Owning user ID"},
					&cli.StringFlag{Name: "type", Usage: "Document type tag (common, type1, type2)"},
					&cli.BoolFlag{Name: "public", Usage: "Mark the document public"},
					&cli.StringSliceFlag{Name: "permission", Usage: "Permission tag (repeatable)"},
				),
			},
			{
				Name:      "batch",
				Usage:     "Ingest every supported file in a folder",
				ArgsUsage: "<folder>",
				Action:    batchCommand,
				Flags: append(processingFlags(),
					&cli.Float64Flag{Name: "max-file-size-mb", Usage: "Skip files larger than this"},
					&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "Descend into subfolders"},
					&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "Files processed concurrently"},
					&cli.StringFlag{Name: "user", Usage: "Owning user ID"},
				),
			},
			{
				Name:      "reprocess",
				Usage:     "Retry a failed document",
				ArgsUsage: "<document-id>",
				Action:    reprocessCommand,
				Flags:     processingFlags(),
			},
			{
				Name:      "delete",
				Usage:     "Delete a document with its chunks and vectors",
				ArgsUsage: "<document-id>",
				Action:    deleteCommand,
			},
			{
				Name:      "enqueue",
				Usage:     "Queue a document for the ingest worker",
				ArgsUsage: "<path>",
				Action:    enqueueCommand,
				Flags:     processingFlags(),
			},
			{
				Name:   "worker",
				Usage:  "Consume ingest requests from RabbitMQ until interrupted",
				Action: workerCommand,
			},
		},
	}
}

func processingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "max-pages", Usage: "Maximum pages per document (0 for all)"},
		&cli.BoolFlag{Name: "skip-images", Usage: "Do not describe or embed images"},
		&cli.BoolFlag{Name: "skip-existing", Usage: "Skip content already ingested"},
		&cli.StringFlag{Name: "processing-config", Usage: "JSON object stored with the document and job"},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

// options merges command flags over the configured pipeline defaults.
type options struct {
	maxPages         int
	skipImages       bool
	skipExisting     bool
	processingConfig map[string]any
}

func readOptions(c *cli.Context, cfg *config.Config) (options, error) {
	opts := options{
		maxPages:     cfg.Pipeline.MaxPages,
		skipImages:   cfg.Pipeline.SkipImages,
		skipExisting: cfg.Pipeline.SkipExisting,
	}
	if c.IsSet("max-pages") {
		opts.maxPages = c.Int("max-pages")
	}
	if c.IsSet("skip-images") {
		opts.skipImages = c.Bool("skip-images")
	}
	if c.IsSet("skip-existing") {
		opts.skipExisting = c.Bool("skip-existing")
	}
	pc, err := parseProcessingConfig(c.String("processing-config"))
	if err != nil {
		return opts, err
	}
	opts.processingConfig = pc
	return opts, nil
}

func parseProcessingConfig(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse processing config failed: %w", err)
	}
	return out, nil
}

func requireArg(c *cli.Context, name string) (string, error) {
	arg := strings.TrimSpace(c.Args().First())
	if arg == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return arg, nil
}

// withApp loads configuration, builds the application and runs fn under a
// context cancelled by SIGINT or SIGTERM.
func withApp(c *cli.Context, fn func(ctx context.Context, a *bootstrap.App) error) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	a, err := bootstrap.New(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("close resources failed: %v", err)
		}
	}()
	return fn(ctx, a)
}

func documentCommand(c *cli.Context) error {
	path, err := requireArg(c, "document path")
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *bootstrap.App) error {
		opts, err := readOptions(c, a.Config)
		if err != nil {
			return err
		}
		res, err := a.Pipeline.Process(ctx, app.DocumentRequest{
			Path:                path,
			MaxPages:            opts.maxPages,
			SkipImageProcessing: opts.skipImages,
			SkipIfHashExists:    opts.skipExisting,
			ProcessingConfig:    opts.processingConfig,
			DocumentName:        c.String("name"),
			UserID:              c.String("user"),
			DocumentType:        model.DocumentType(c.String("type")),
			IsPublic:            c.Bool("public"),
			Permissions:         c.StringSlice("permission"),
		})
		return reportDocument(c.App.Writer, res, err)
	})
}

func reprocessCommand(c *cli.Context) error {
	id, err := requireArg(c, "document id")
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *bootstrap.App) error {
		opts, err := readOptions(c, a.Config)
		if err != nil {
			return err
		}
		res, err := a.Pipeline.Reprocess(ctx, id, app.ReprocessOptions{
			MaxPages:            opts.maxPages,
			SkipImageProcessing: opts.skipImages,
			ProcessingConfig:    opts.processingConfig,
		})
		return reportDocument(c.App.Writer, res, err)
	})
}

func reportDocument(w io.Writer, res *app.DocumentResult, err error) error {
	if res != nil {
		if printErr := printJSON(w, res.ToMap()); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return err
	}
	if res != nil && res.Status == app.ResultFailure {
		return cli.Exit("document processing failed", 1)
	}
	return nil
}

func batchCommand(c *cli.Context) error {
	folder, err := requireArg(c, "folder path")
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *bootstrap.App) error {
		opts, err := readOptions(c, a.Config)
		if err != nil {
			return err
		}
		req := app.BatchRequest{
			FolderPath:          folder,
			MaxPages:            opts.maxPages,
			MaxFileSizeMB:       a.Config.Pipeline.MaxFileSizeMB,
			SkipExisting:        opts.skipExisting,
			SkipImageProcessing: opts.skipImages,
			Recursive:           c.Bool("recursive"),
			Workers:             a.Config.Pipeline.Workers,
			ProcessingConfig:    opts.processingConfig,
			UserID:              c.String("user"),
		}
		if c.IsSet("max-file-size-mb") {
			req.MaxFileSizeMB = c.Float64("max-file-size-mb")
		}
		if c.IsSet("workers") {
			req.Workers = c.Int("workers")
		}

		res, err := a.Batch.Run(ctx, req)
		if err != nil {
			return err
		}
		if err := printJSON(c.App.Writer, res.ToMap()); err != nil {
			return err
		}
		if res.Status == "failed" {
			return cli.Exit("batch processing failed", 1)
		}
		return nil
	})
}

func deleteCommand(c *cli.Context) error {
	id, err := requireArg(c, "document id")
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *bootstrap.App) error {
		if err := a.Pipeline.Delete(ctx, id); err != nil {
			return err
		}
		return printJSON(c.App.Writer, map[string]any{"status": "deleted", "document_id": id})
	})
}

func enqueueCommand(c *cli.Context) error {
	path, err := requireArg(c, "document path")
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *bootstrap.App) error {
		if a.Publisher == nil {
			return errors.New("enqueue failed: rabbitmq is not enabled")
		}
		opts, err := readOptions(c, a.Config)
		if err != nil {
			return err
		}
		req := model.IngestRequest{
			Path:                path,
			MaxPages:            opts.maxPages,
			SkipImageProcessing: opts.skipImages,
			SkipIfHashExists:    opts.skipExisting,
			ProcessingConfig:    opts.processingConfig,
		}
		if err := a.Publisher.PublishIngestRequest(ctx, req); err != nil {
			return err
		}
		return printJSON(c.App.Writer, map[string]any{"status": "queued", "path": path})
	})
}

func workerCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *bootstrap.App) error {
		if err := a.StartWorker(ctx); err != nil {
			return err
		}

		var server *http.Server
		if addr := a.Config.App.HealthAddr; addr != "" {
			server = &http.Server{
				Addr:              addr,
				Handler:           httptransport.NewRouter(a),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				slog.Info("health server starting", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("health server failed", "error", err)
				}
			}()
		}

		<-ctx.Done()
		slog.Info("shutting down ingest worker")
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("health server shutdown failed", "error", err)
			}
		}
		return nil
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output failed: %w", err)
	}
	return nil
}
