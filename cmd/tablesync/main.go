package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tablesync/internal/config"
	"tablesync/internal/engine"
	"tablesync/internal/metrics"
	"tablesync/internal/metrics/datadog"
	"tablesync/internal/source"
	"tablesync/internal/storage"

	// register destination backends with the storage factory.
	_ "tablesync/internal/storage/postgres"
	_ "tablesync/internal/storage/sqlite"
)

// main loads settings, wires the source client and destination backend,
// runs one sync, and prints the run report as JSON on stdout.
func main() {
	var (
		mappingPath string
		forceFull   bool
		verbose     bool
	)
	flag.StringVar(&mappingPath, "mapping", "", "mapping JSON path (overrides TABLESYNC_MAPPING_FILE)")
	flag.BoolVar(&forceFull, "force-full", false, "ignore stored watermarks and pull every table fully")
	flag.BoolVar(&verbose, "v", false, "enable progress logs")
	flag.Parse()

	settings, err := config.Load()
	if err != nil {
		fatalf("config: %v", err)
	}
	if mappingPath != "" {
		settings.MappingPath = mappingPath
	}
	if forceFull {
		settings.ForceFull = true
	}

	mapping, err := config.LoadMapping(settings.MappingPath)
	if err != nil {
		fatalf("config: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	if verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var backend metrics.Backend = metrics.Nop{}
	if settings.DatadogEnabled {
		b, err := datadog.NewBackend(ctx, datadog.Options{
			Tags: datadog.ParseTagsCSV(settings.DatadogTags),
		})
		if err != nil {
			log.Printf("metrics: datadog init failed: %v; metrics disabled", err)
		} else {
			backend = b
			// Close stops the periodic flush loop and ships the tail.
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: close/flush error: %v", err)
				}
			}()
		}
	}

	dest, err := storage.New(ctx, storage.Config{Kind: settings.StorageKind, DSN: settings.DSN})
	if err != nil {
		fatalf("open destination: %v", err)
	}
	defer dest.Close()

	src := engine.APISource{
		Client: &source.Client{
			BaseURL:       settings.SourceBaseURL,
			BaseID:        settings.BaseID,
			Token:         settings.Token,
			ModifiedField: settings.ModifiedField,
		},
		Pacer: source.NewPacer(settings.MinDelay),
	}

	o := engine.New(src, dest, engine.Options{
		BatchSize:      settings.BatchSize,
		Workers:        settings.Workers,
		ForceFull:      settings.ForceFull,
		Overrides:      mapping.Overrides,
		RequiredFields: mapping.RequiredFields,
		Logger:         logger,
		Metrics:        backend,
	})

	report, runErr := o.Run(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fatalf("encode report: %v", err)
	}

	if runErr != nil {
		fatalf("run: %v", runErr)
	}
	if !report.Success {
		os.Exit(1)
	}
}

func fatalf(format string, v ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	os.Exit(1)
}
