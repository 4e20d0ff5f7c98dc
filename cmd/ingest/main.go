// Command ingest watches a directory for SOP documents, extracts structured
// records with an LLM, and merges them into the Neo4j knowledge graph.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/RunbookAI/runbook-mvp/engine/domain"
	"github.com/RunbookAI/runbook-mvp/engine/graph"
	"github.com/RunbookAI/runbook-mvp/engine/ingest"
	"github.com/RunbookAI/runbook-mvp/engine/parser"
	"github.com/RunbookAI/runbook-mvp/pkg/llm"
	"github.com/RunbookAI/runbook-mvp/pkg/metrics"
	"github.com/RunbookAI/runbook-mvp/pkg/resilience"
	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var met = metrics.New()

var (
	mFilesProcessed = met.Counter("runbook_ingest_files_processed_total", "SOP files processed")
	mRecordsTotal   = met.Counter("runbook_ingest_records_total", "SOP records stored in the graph")
	mErrorsTotal    = func(stage string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("runbook_ingest_errors_total", "stage", stage), "Ingestion errors")
	}
	mStepsTotal   = met.Counter("runbook_ingest_steps_total", "SOP steps stored")
	mQueueDepth   = met.Gauge("runbook_ingest_queue_depth", "Files waiting to process")
	mLastScan     = met.Gauge("runbook_ingest_last_scan_timestamp", "Epoch of last directory scan")
	mParseDur     = met.Histogram("runbook_ingest_parse_duration_seconds", "LLM extraction time per file", nil)
	mPipelineDur  = met.Histogram("runbook_ingest_pipeline_duration_seconds", "Per-record pipeline time", nil)
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	var (
		dataDir     = flag.String("dir", "./sop_docs", "directory to watch for SOP documents")
		neo4jURL    = flag.String("neo4j", envOr("NEO4J_URI", "neo4j://localhost:7687"), "Neo4j bolt URL")
		neo4jUser   = flag.String("neo4j-user", envOr("NEO4J_USERNAME", "neo4j"), "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", envOr("NEO4J_PASSWORD", "password"), "Neo4j password")
		interval    = flag.Duration("interval", 30*time.Second, "scan interval")
		stateFile   = flag.String("state", "./sop_docs/.ingest-state.json", "processed files state")
		metricsPort = flag.Int("metrics-port", 9091, "Prometheus metrics port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	met.ServeAsync(*metricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
	if err != nil {
		logger.Error("neo4j connect failed", "error", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		logger.Error("neo4j verify failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to Neo4j", "url", *neo4jURL)

	client := llm.NewClient(llm.Config{
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		BaseURL:    os.Getenv("OPENAI_BASE_URL"),
		ChatModel:  envOr("RUNBOOK_CHAT_MODEL", ""),
		EmbedModel: envOr("RUNBOOK_EMBED_MODEL", ""),
	})
	completer := llm.NewResilient(client,
		resilience.NewLimiter(resilience.LimiterOpts{Rate: 2, Burst: 4}),
		resilience.NewBreaker(resilience.DefaultBreakerOpts),
	)

	sopParser := parser.New(completer, parser.WithLogger(logger))
	gs := graph.New(driver, client)

	deps := ingest.Deps{
		Embedder:   client,
		GraphStore: gs,
		Logger:     logger,
	}

	processed := loadState(*stateFile)
	os.MkdirAll(*dataDir, 0o755)
	logger.Info("watching for SOP documents", "dir", *dataDir, "interval", *interval)

	scan := func() {
		mLastScan.Set(time.Now().Unix())
		entries, err := os.ReadDir(*dataDir)
		if err != nil {
			mErrorsTotal("scan").Inc()
			logger.Error("readdir failed", "error", err)
			return
		}

		for _, e := range entries {
			if e.IsDir() || e.Name()[0] == '.' || !isSOPDoc(e.Name()) {
				continue
			}
			path := filepath.Join(*dataDir, e.Name())
			info, err := e.Info()
			if err != nil {
				continue
			}
			key := fmt.Sprintf("%s:%d", e.Name(), info.Size())
			if processed[key] {
				continue
			}

			mQueueDepth.Inc()
			logger.Info("processing file", "file", e.Name())
			ok := processFile(ctx, path, sopParser, deps, logger)
			mQueueDepth.Dec()
			mFilesProcessed.Inc()

			// Failed files are retried on the next scan.
			if ok {
				processed[key] = true
				saveState(*stateFile, processed)
			} else {
				logger.Warn("file had errors, will retry on next scan", "file", e.Name())
			}
		}
	}

	scan()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

func isSOPDoc(name string) bool {
	return strings.HasSuffix(name, ".txt") || strings.HasSuffix(name, ".md")
}

func processFile(ctx context.Context, path string, p *parser.Parser, deps ingest.Deps, logger *slog.Logger) bool {
	parseStart := time.Now()
	rec, err := p.ParseFile(ctx, path)
	mParseDur.Since(parseStart)
	if err != nil {
		mErrorsTotal(domain.StageParse).Inc()
		logger.Error("extraction failed", "file", path, "error", err)
		return false
	}

	start := time.Now()
	reports, err := ingest.IngestBatch(ctx, deps, []domain.SOPRecord{rec})
	mPipelineDur.Since(start)
	if err != nil {
		mErrorsTotal(domain.StageIngest).Inc()
		logger.Error("ingestion failed", "file", path, "error", err)
		return false
	}

	ok := true
	for _, r := range reports {
		if r.Failed() {
			mErrorsTotal(domain.StageIngest).Inc()
			ok = false
			continue
		}
		mRecordsTotal.Inc()
		mStepsTotal.Add(int64(len(rec.Steps)))
	}
	return ok
}

func loadState(path string) map[string]bool {
	m := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]bool) {
	data, _ := json.Marshal(m)
	os.WriteFile(path, data, 0o644)
}
