// Package main implements the mnemo-compact binary: one-shot or periodic
// compaction of the mnemo event log into the monthly archive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnemolabs/mnemo/internal/archive"
	"github.com/mnemolabs/mnemo/internal/compaction"
	"github.com/mnemolabs/mnemo/internal/config"
	"github.com/mnemolabs/mnemo/internal/state"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (YAML or JSON)")
		dataDir    = flag.String("data-dir", "", "base data directory (overrides config)")
		retention  = flag.Int("retention-days", 0, "retention window in days (overrides config)")
		maxPeriods = flag.Int("max-periods", 0, "max periods per run (overrides config)")
		daemonMode = flag.Bool("daemon", false, "run periodically instead of once")
		jsonOut    = flag.Bool("json", false, "print the run result as JSON")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.LogDir = ""
		cfg.ArchiveRoot = ""
		cfg.Resolve()
	}
	if *retention != 0 {
		cfg.Compaction.RetentionDays = *retention
	}
	if *maxPeriods != 0 {
		cfg.Compaction.MaxPeriodsPerRun = *maxPeriods
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mirror *archive.Mirror
	if cfg.MirrorEnabled() {
		mirror, err = archive.NewMirror(ctx, archive.MirrorConfig{
			Bucket:       cfg.Mirror.Bucket,
			Prefix:       cfg.Mirror.Prefix,
			Region:       cfg.Mirror.Region,
			Endpoint:     cfg.Mirror.Endpoint,
			UsePathStyle: cfg.Mirror.UsePathStyle,
		})
		if err != nil {
			log.Fatalf("Failed to initialize archive mirror: %v", err)
		}
		log.Printf("Archive mirror enabled: bucket=%s", cfg.Mirror.Bucket)
	}

	opts := compaction.Options{
		LogDir:           cfg.LogDir,
		ArchiveRoot:      cfg.ArchiveRoot,
		RetentionDays:    cfg.Compaction.RetentionDays,
		MaxPeriodsPerRun: cfg.Compaction.MaxPeriodsPerRun,
		Mirror:           mirror,
	}

	log.Printf("mnemo-compact: log=%s archive=%s retention=%dd max=%d",
		cfg.LogDir, cfg.ArchiveRoot, cfg.Compaction.RetentionDays, cfg.Compaction.MaxPeriodsPerRun)

	stateStore := state.NewStore(cfg.DataDir)

	if !*daemonMode {
		result := runOnce(ctx, opts, stateStore, *jsonOut)
		if result != nil && len(result.Warnings) > 0 {
			os.Exit(1)
		}
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	ticker := time.NewTicker(cfg.Compaction.CheckInterval)
	defer ticker.Stop()

	log.Printf("mnemo-compact: daemon mode, interval %v", cfg.Compaction.CheckInterval)
	runOnce(ctx, opts, stateStore, *jsonOut)

	for {
		select {
		case <-ticker.C:
			runOnce(ctx, opts, stateStore, *jsonOut)
		case sig := <-sigCh:
			log.Printf("Received signal: %v, shutting down", sig)
			cancel()
			return
		}
	}
}

func runOnce(ctx context.Context, opts compaction.Options, stateStore *state.Store, jsonOut bool) *compaction.Result {
	result, err := compaction.CompactEvents(ctx, opts)
	if err != nil {
		log.Printf("Compaction failed: %v", err)
		return nil
	}

	for _, w := range result.Warnings {
		log.Printf("warning: %s", w)
	}

	recordRun(stateStore, result)
	if jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			os.Stdout.Write(append(data, '\n'))
		}
	} else {
		log.Printf("Compaction complete: processed=%d skipped=%d events=%d summaries=%d warnings=%d",
			result.PeriodsProcessed, result.PeriodsSkipped, result.EventsArchived,
			result.SummariesCreated, len(result.Warnings))
	}
	return result
}

// recordRun notes the run in the state document, best effort.
func recordRun(stateStore *state.Store, result *compaction.Result) {
	doc, err := stateStore.Load()
	if err != nil {
		log.Printf("warning: failed to load state document: %v", err)
		return
	}
	doc.LastCompaction = &state.CompactionRecord{
		RanAt:            time.Now().UTC(),
		PeriodsProcessed: result.PeriodsProcessed,
		EventsArchived:   result.EventsArchived,
		Warnings:         len(result.Warnings),
	}
	if err := stateStore.Save(doc); err != nil {
		log.Printf("warning: failed to save state document: %v", err)
	}
}
