package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/analysis"
	"github.com/finsight-io/finsight/internal/browser"
	"github.com/finsight-io/finsight/internal/confirm"
	"github.com/finsight-io/finsight/internal/graph"
	"github.com/finsight-io/finsight/internal/scrape"
	"github.com/finsight-io/finsight/internal/session"
	"github.com/finsight-io/finsight/internal/store"
	"github.com/finsight-io/finsight/pkg/llm"
)

// appEnv holds the initialized store and the services built on top of
// it. Callers should defer env.Close().
type appEnv struct {
	Store        store.Store
	Sessions     *session.Manager
	Orchestrator *scrape.Orchestrator
	Pipeline     *analysis.Pipeline
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the sqlite store, runs migrations, and layers stored
// settings over the loaded config.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	settings, err := st.ListSettings(ctx)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load settings")
	}
	if err := cfg.ApplyOverrides(settings); err != nil {
		_ = st.Close()
		return nil, err
	}

	return st, nil
}

// initEnv sets up the store and builds the session manager, scrape
// orchestrator, and analysis pipeline. The confirmer decides how
// operator questions are answered; CLI commands pass a terminal
// confirmer, the server answers automatically.
func initEnv(ctx context.Context, confirmer confirm.Confirmer) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(st, browser.NewChromeLauncher(), cfg.Network, cfg.Browser)
	graphClient := graph.New(cfg.Graph)
	orchestrator := scrape.NewOrchestrator(st, sessions, graphClient, confirmer, cfg.Network, cfg.Scrape)

	if cfg.Analysis.Key == "" {
		zap.L().Warn("FINSIGHT_ANALYSIS_KEY not set, analysis commands will fail")
	}
	pipeline := analysis.NewPipeline(st, llm.NewClient(cfg.Analysis.Key), cfg.Analysis)

	return &appEnv{
		Store:        st,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Pipeline:     pipeline,
	}, nil
}

// printJSON writes v to stdout as indented JSON. All CLI commands emit
// their results this way.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid id %q", arg)
	}
	return id, nil
}
