// Command investigate produces an investigation checklist for one alert type
// from the SOP knowledge graph.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/RunbookAI/runbook-mvp/engine/domain"
	"github.com/RunbookAI/runbook-mvp/engine/graph"
	"github.com/RunbookAI/runbook-mvp/engine/rag"
	"github.com/RunbookAI/runbook-mvp/pkg/llm"
	"github.com/RunbookAI/runbook-mvp/pkg/resilience"
	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	_ = godotenv.Load()

	var (
		alertType  = flag.String("alert", "", "alert type to investigate (required)")
		contextRef = flag.String("context", "", "discrepancy data reference, e.g. a CSV path (required)")
		topK       = flag.Int("topk", 5, "similar steps to retrieve")
		noCompress = flag.Bool("no-compress", false, "skip LLM passage compression")
		asJSON     = flag.Bool("json", false, "emit the full checklist as JSON")
		listAlerts = flag.Bool("list", false, "list covered alert types and exit")
		quiet      = flag.Bool("quiet", false, "suppress progress output")
		neo4jURL   = flag.String("neo4j", envOr("NEO4J_URI", "neo4j://localhost:7687"), "Neo4j bolt URL")
		neo4jUser  = flag.String("neo4j-user", envOr("NEO4J_USERNAME", "neo4j"), "Neo4j username")
		neo4jPass  = flag.String("neo4j-pass", envOr("NEO4J_PASSWORD", "password"), "Neo4j password")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, config{
		alertType:  *alertType,
		contextRef: *contextRef,
		topK:       *topK,
		noCompress: *noCompress,
		asJSON:     *asJSON,
		listAlerts: *listAlerts,
		quiet:      *quiet,
		neo4jURL:   *neo4jURL,
		neo4jUser:  *neo4jUser,
		neo4jPass:  *neo4jPass,
	}, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type config struct {
	alertType  string
	contextRef string
	topK       int
	noCompress bool
	asJSON     bool
	listAlerts bool
	quiet      bool
	neo4jURL   string
	neo4jUser  string
	neo4jPass  string
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	driver, err := neo4j.NewDriverWithContext(cfg.neo4jURL, neo4j.BasicAuth(cfg.neo4jUser, cfg.neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)

	client := llm.NewClient(llm.Config{
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		BaseURL:    os.Getenv("OPENAI_BASE_URL"),
		ChatModel:  os.Getenv("RUNBOOK_CHAT_MODEL"),
		EmbedModel: os.Getenv("RUNBOOK_EMBED_MODEL"),
	})
	completer := llm.NewResilient(client,
		resilience.NewLimiter(resilience.LimiterOpts{Rate: 2, Burst: 4}),
		resilience.NewBreaker(resilience.DefaultBreakerOpts),
	)

	gs := graph.New(driver, client)

	if cfg.listAlerts {
		alerts, err := gs.ListAlertTypes(ctx)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Println("no alert types ingested")
			return nil
		}
		for _, a := range alerts {
			fmt.Println(a)
		}
		return nil
	}

	if cfg.alertType == "" || cfg.contextRef == "" {
		flag.Usage()
		return fmt.Errorf("-alert and -context are required")
	}

	opts := rag.DefaultOptions()
	opts.TopK = cfg.topK
	opts.Compress = !cfg.noCompress
	if !cfg.quiet {
		opts.Progress = func(msg string) { fmt.Fprintln(os.Stderr, msg, "...") }
	}

	svc := rag.New(completer, client, gs, graph.NewQA(gs, completer), opts, logger)

	checklist, err := svc.Investigate(ctx, domain.Investigation{
		AlertType:  cfg.alertType,
		ContextRef: cfg.contextRef,
	})
	if err != nil {
		return err
	}

	if cfg.asJSON {
		return json.NewEncoder(os.Stdout).Encode(checklist)
	}
	fmt.Println(checklist.Text)
	return nil
}
