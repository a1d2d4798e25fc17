// Package main provides the mdpreview one-shot document export CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/euforicio/mdpreview/internal/buildinfo"
	"github.com/euforicio/mdpreview/internal/config"
	"github.com/euforicio/mdpreview/internal/exporter"
	"github.com/euforicio/mdpreview/internal/renderer"
	d2renderer "github.com/euforicio/mdpreview/internal/renderer/d2"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("mdpreview-export", pflag.ExitOnError)
	flags.StringVarP(&cfg.RootDir, "root", "r", cfg.RootDir, "root directory the document path is resolved against")
	formatNames := make([]string, 0, len(exporter.ValidFormats()))
	for _, f := range exporter.ValidFormats() {
		formatNames = append(formatNames, string(f))
	}
	format := flags.StringP("format", "f", string(exporter.FormatHTML),
		fmt.Sprintf("output format (%s)", strings.Join(formatNames, ", ")))
	output := flags.StringP("out", "o", "", "output file path (default: derived from the document name; \"-\" for stdout)")
	versionFlag := flags.Bool("version", false, "Print version information and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("flag parsing failed", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		println(buildinfo.Summary())
		os.Exit(0)
	}

	if flags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mdpreview-export [flags] <document>")
		flags.PrintDefaults()
		os.Exit(2)
	}
	docPath := flags.Arg(0)

	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}
	if !exporter.IsValidFormat(*format) {
		slog.Error("unsupported format", slog.String("format", *format))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("starting mdpreview-export", slog.String("version", buildinfo.Summary()))

	d2Svc := d2renderer.New(logger, nil)
	rendererSvc := renderer.NewService(logger, d2Svc)
	exp, err := exporter.New(logger, rendererSvc, d2Svc)
	if err != nil {
		logger.Error("init exporter failed", slog.Any("err", err))
		os.Exit(1)
	}

	var writer io.Writer = os.Stdout
	outPath := *output
	if outPath == "" {
		outPath = defaultOutputName(docPath, exporter.Format(*format))
	}
	if outPath != "-" {
		f, err := os.Create(outPath) //nolint:gosec // user-supplied output path
		if err != nil {
			logger.Error("create output file failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer f.Close()
		writer = f
	}

	ctx := context.Background()
	if err := exp.Export(ctx, exporter.Options{
		Writer:  writer,
		Format:  exporter.Format(*format),
		RootDir: cfg.RootDir,
		Path:    docPath,
	}); err != nil {
		logger.Error("export failed", slog.Any("err", err))
		os.Exit(1)
	}

	if outPath != "-" {
		logger.Info("export succeeded", slog.String("output", outPath))
	}
}

func defaultOutputName(docPath string, format exporter.Format) string {
	base := strings.TrimSuffix(filepath.Base(docPath), filepath.Ext(docPath))
	switch format {
	case exporter.FormatPDF:
		return base + ".pdf"
	case exporter.FormatMarkdown:
		return base + ".export.md"
	default:
		return base + ".html"
	}
}
