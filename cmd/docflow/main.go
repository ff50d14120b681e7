package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"docflow/internal/app"
	"docflow/internal/chunker"
	"docflow/internal/config"
	"docflow/internal/doctype"
	"docflow/internal/extract"
	"docflow/internal/pipeline"
	"docflow/internal/providers"
)

func main() {
	_ = godotenv.Load(".env")
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("docflow failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docflow",
		Usage: "Ingest PDFs into chunked, enriched, searchable records",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				EnvVars: []string{"DOCFLOW_LOG_LEVEL"},
				Value:   "info",
			},
		},
		Before: func(c *cli.Context) error {
			app.SetupLogging(c.String("log-level"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Create the relational schema and the vector collection",
				Action: migrateCommand,
			},
			{
				Name:      "chunk",
				Usage:     "Extract and chunk a PDF without storing anything",
				ArgsUsage: "<file.pdf>",
				Action:    chunkCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max-chars", Usage: "Maximum characters per chunk (defaults to DOCFLOW_MAX_CHUNK_CHARS)"},
					&cli.IntFlag{Name: "overlap", Usage: "Characters shared by adjacent chunks (defaults to DOCFLOW_MAX_OVERLAPS)"},
				},
			},
			{
				Name:      "detect",
				Usage:     "Classify the document type of a PDF or a text snippet",
				ArgsUsage: "[file.pdf]",
				Action:    detectCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Classify this text instead of a file"},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Upload a PDF through the full pipeline",
				ArgsUsage: "<file.pdf>",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "doc-type", Usage: "Skip detection and use this document type"},
					&cli.BoolFlag{Name: "wait", Usage: "Wait for deferred batches before exiting", Value: true},
				},
			},
			{
				Name:   "query",
				Usage:  "Answer a question from indexed chunks",
				Action: queryCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "question", Aliases: []string{"q"}, Usage: "Question to answer", Required: true},
					&cli.StringFlag{Name: "pdf-id", Usage: "Restrict retrieval to one document"},
				},
			},
		},
	}
}

func migrateCommand(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, time.Minute)
	defer cancel()
	a, err := app.New(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "schema ready")
	return nil
}

func chunkCommand(c *cli.Context) error {
	cfg := config.Load()
	data, err := readPDFArg(c)
	if err != nil {
		return err
	}
	opts := pipeline.OptionsFromConfig(cfg).Chunker
	if c.IsSet("max-chars") {
		opts.MaxChars = c.Int("max-chars")
	}
	if c.IsSet("overlap") {
		opts.Overlap = c.Int("overlap")
	}
	ck, err := chunker.New(opts)
	if err != nil {
		return err
	}
	pages, err := extract.Default(cfg.ExtractBackup).Extract(c.Context, data)
	if err != nil {
		return err
	}
	chunks, err := ck.Chunk(extract.FullText(pages))
	if err != nil {
		return err
	}
	return printJSON(c, chunks)
}

func detectCommand(c *cli.Context) error {
	cfg := config.Load()
	text := c.String("text")
	if strings.TrimSpace(text) == "" {
		data, err := readPDFArg(c)
		if err != nil {
			return err
		}
		pages, err := extract.Default(cfg.ExtractBackup).Extract(c.Context, data)
		if err != nil {
			return err
		}
		text = extract.FullText(pages)
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return err
	}
	opts := pipeline.OptionsFromConfig(cfg).Detect
	return printJSON(c, doctype.New(pm, opts).DetectOrDefault(c.Context, text))
}

func ingestCommand(c *cli.Context) error {
	cfg := config.Load()
	path := c.Args().First()
	data, err := readPDFArg(c)
	if err != nil {
		return err
	}
	a, err := app.New(c.Context, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var ls *pipeline.LocalScheduler
	if cfg.Executor == "temporal" {
		if _, err := a.UseTemporalScheduler(); err != nil {
			return err
		}
	} else if ls, err = a.UseLocalScheduler(); err != nil {
		return err
	}

	res, err := a.Service.Upload(c.Context, pipeline.UploadRequest{
		Filename: filepath.Base(path),
		Data:     data,
		DocType:  c.String("doc-type"),
	})
	if err != nil {
		return err
	}
	if ls != nil && c.Bool("wait") {
		ls.Wait()
		if doc, err := a.Service.GetDocument(c.Context, res.PdfID); err == nil {
			res.Status = doc.Status
		}
	}
	return printJSON(c, res)
}

func queryCommand(c *cli.Context) error {
	a, err := app.New(c.Context, config.Load())
	if err != nil {
		return err
	}
	defer a.Close()
	res, err := a.Service.Query(c.Context, pipeline.QueryRequest{
		Question: c.String("question"),
		PdfID:    c.String("pdf-id"),
	})
	if err != nil {
		return err
	}
	return printJSON(c, res)
}

func readPDFArg(c *cli.Context) ([]byte, error) {
	path := c.Args().First()
	if path == "" {
		return nil, fmt.Errorf("a PDF path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
