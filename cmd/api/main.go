// Command api serves the runbook HTTP API: SOP ingestion, alert coverage
// stats, and investigation checklist generation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/RunbookAI/runbook-mvp/engine/domain"
	"github.com/RunbookAI/runbook-mvp/engine/graph"
	"github.com/RunbookAI/runbook-mvp/engine/ingest"
	"github.com/RunbookAI/runbook-mvp/engine/parser"
	"github.com/RunbookAI/runbook-mvp/engine/rag"
	"github.com/RunbookAI/runbook-mvp/pkg/llm"
	"github.com/RunbookAI/runbook-mvp/pkg/metrics"
	"github.com/RunbookAI/runbook-mvp/pkg/mid"
	"github.com/RunbookAI/runbook-mvp/pkg/natsutil"
	"github.com/RunbookAI/runbook-mvp/pkg/resilience"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var (
	met = metrics.New()

	mRequestsTotal = func(route string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("runbook_api_requests_total", "route", route), "API requests by route")
	}
	mInvestigateSeconds = met.Histogram("runbook_api_investigate_seconds", "Investigation latency",
		[]float64{0.5, 1, 2.5, 5, 10, 30, 60})
	mIngestDocsTotal = met.Counter("runbook_api_ingest_docs_total", "Documents accepted for ingestion")
	mNoCoverageTotal = met.Counter("runbook_api_no_coverage_total", "Investigations with no graph coverage")
)

type Config struct {
	Port        int
	MetricsPort int
	Neo4jURL    string
	Neo4jUser   string
	Neo4jPass   string
	OpenAIKey   string
	OpenAIBase  string
	ChatModel   string
	EmbedModel  string
	NATSURL     string
	CORSOrigin  string
}

func loadConfig() Config {
	port, _ := strconv.Atoi(envOr("PORT", "8080"))
	mport, _ := strconv.Atoi(envOr("METRICS_PORT", "9092"))
	return Config{
		Port:        port,
		MetricsPort: mport,
		Neo4jURL:    envOr("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:   envOr("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   envOr("NEO4J_PASSWORD", "password"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIBase:  os.Getenv("OPENAI_BASE_URL"),
		ChatModel:   os.Getenv("RUNBOOK_CHAT_MODEL"),
		EmbedModel:  os.Getenv("RUNBOOK_EMBED_MODEL"),
		NATSURL:     os.Getenv("NATS_URL"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met.ServeAsync(cfg.MetricsPort)

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j connectivity: %w", err)
	}

	client := llm.NewClient(llm.Config{
		APIKey:     cfg.OpenAIKey,
		BaseURL:    cfg.OpenAIBase,
		ChatModel:  cfg.ChatModel,
		EmbedModel: cfg.EmbedModel,
	})
	completer := llm.NewResilient(client,
		resilience.NewLimiter(resilience.LimiterOpts{Rate: 4, Burst: 8}),
		resilience.NewBreaker(resilience.DefaultBreakerOpts),
	)

	gs := graph.New(driver, client)
	svc := rag.New(completer, client, gs, graph.NewQA(gs, completer), rag.DefaultOptions(), logger)

	srv := &apiServer{
		logger: logger,
		graph:  gs,
		rag:    svc,
		parser: parser.New(completer, parser.WithLogger(logger)),
		deps: ingest.Deps{
			Embedder:   client,
			GraphStore: gs,
			Logger:     logger,
		},
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("runbook-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		sub, err := ingest.StartConsumer(nc, srv.deps)
		if err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer sub.Unsubscribe()
		srv.nats = nc
		logger.Info("nats ingest consumer started", "subject", ingest.IngestSubject)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.HandleFunc("GET /api/alerts", srv.handleAlerts)
	mux.HandleFunc("GET /api/stats", srv.handleStats)
	mux.HandleFunc("POST /api/ingest", srv.handleIngest)
	mux.HandleFunc("POST /api/investigate", srv.handleInvestigate)

	handler := mid.Chain(mux,
		mid.OTel("runbook-api"),
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type apiServer struct {
	logger *slog.Logger
	graph  *graph.GraphStore
	rag    *rag.Service
	parser *parser.Parser
	deps   ingest.Deps
	nats   *nats.Conn
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleAlerts(w http.ResponseWriter, r *http.Request) {
	mRequestsTotal("alerts").Inc()
	alerts, err := s.graph.ListAlertTypes(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if alerts == nil {
		alerts = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	mRequestsTotal("stats").Inc()
	ctx := r.Context()
	nodes, err := s.graph.NodeCounts(ctx)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	rels, err := s.graph.RelationshipCounts(ctx)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	coverage, err := s.graph.CoverageByAlert(ctx, 20)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":         nodes,
		"relationships": rels,
		"coverage":      coverage,
	})
}

type ingestRequest struct {
	Document string `json:"document"`
}

type ingestResponse struct {
	Accepted bool            `json:"accepted"`
	Async    bool            `json:"async"`
	Reports  []ingest.Report `json:"reports,omitempty"`
}

func (s *apiServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	mRequestsTotal("ingest").Inc()
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Document == "" {
		s.fail(w, r, http.StatusBadRequest, errors.New("document is required"))
		return
	}

	rec, err := s.parser.Parse(r.Context(), req.Document)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	mIngestDocsTotal.Inc()

	// With NATS configured, hand the parsed record to the consumer and
	// return immediately.
	if s.nats != nil {
		if err := natsutil.Publish(r.Context(), s.nats, ingest.IngestSubject, rec); err != nil {
			s.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: true, Async: true})
		return
	}

	reports, err := ingest.IngestBatch(r.Context(), s.deps, []domain.SOPRecord{rec})
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	for _, rep := range reports {
		if rep.Failed() {
			s.fail(w, r, http.StatusInternalServerError, rep.Err)
			return
		}
	}
	writeJSON(w, http.StatusOK, ingestResponse{Accepted: true, Reports: reports})
}

func (s *apiServer) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	mRequestsTotal("investigate").Inc()
	start := time.Now()

	var inv domain.Investigation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	checklist, err := s.rag.Investigate(r.Context(), inv)
	if err != nil {
		if errors.Is(err, domain.ErrNoCoverage) {
			mNoCoverageTotal.Inc()
		}
		s.fail(w, r, statusFor(err), err)
		return
	}
	mInvestigateSeconds.Since(start)
	writeJSON(w, http.StatusOK, checklist)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoCoverage):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrParse):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.logger.Error("request failed",
		"path", r.URL.Path,
		"status", status,
		"request_id", mid.RequestIDFrom(r.Context()),
		"error", err,
	)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
