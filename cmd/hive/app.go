package main

import (
	"context"
	"fmt"
	"path/filepath"

	"researchhive/internal/config"
	"researchhive/internal/embedding"
	"researchhive/internal/fetch"
	"researchhive/internal/ingest"
	"researchhive/internal/llm"
	"researchhive/internal/logging"
	"researchhive/internal/memory"
	"researchhive/internal/research"
	"researchhive/internal/retrieval"
	"researchhive/internal/sched"
	"researchhive/internal/store"
	"researchhive/internal/types"
)

// app holds the wired components for one CLI invocation. Pieces are
// built lazily so cheap commands do not open every store.
type app struct {
	cfg      *config.Config
	registry *store.RegistryStore
	session  *store.SessionStore
	sessID   string
	global   *store.GlobalStore
	embedder embedding.Engine
	pools    *sched.Pools
	engines  []*retrieval.Engine
}

func hiveDir(parts ...string) string {
	return filepath.Join(append([]string{workspace, ".hive"}, parts...)...)
}

func newApp() (*app, error) {
	reg, err := store.NewRegistryStore(hiveDir("registry.db"))
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return &app{cfg: config.Current(), registry: reg}, nil
}

func (a *app) close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.global != nil {
		a.global.Close()
	}
	if a.registry != nil {
		a.registry.Close()
	}
}

// openSession resolves the --session flag, falling back to the most
// recently used session.
func (a *app) openSession() (*store.SessionStore, error) {
	if a.session != nil {
		return a.session, nil
	}

	id := sessionID
	if id == "" {
		sessions, err := a.registry.ListSessions()
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, fmt.Errorf("no sessions yet, run \"hive session new\" first")
		}
		id = sessions[0].ID
	} else if _, err := a.registry.GetSession(id); err != nil {
		return nil, err
	}

	st, err := store.NewSessionStore(hiveDir("sessions", id+".db"), id)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", id, err)
	}
	if err := a.registry.TouchSession(id); err != nil {
		logging.BootError("touch session %s: %v", id, err)
	}
	a.session = st
	a.sessID = id
	return st, nil
}

func (a *app) openGlobal() (*store.GlobalStore, error) {
	if a.global != nil {
		return a.global, nil
	}
	g, err := store.NewGlobalStore(hiveDir("global.db"))
	if err != nil {
		return nil, fmt.Errorf("open global memory: %w", err)
	}
	a.global = g
	return g, nil
}

// embedderOrNil builds the configured embedding engine. Retrieval and
// ingestion degrade to keyword-only without one.
func (a *app) embedderOrNil() embedding.Engine {
	if a.embedder != nil {
		return a.embedder
	}
	eng, err := embedding.NewEngine(a.cfg.Embedding)
	if err != nil {
		logging.EmbeddingDebug("no embedder available: %v", err)
		return nil
	}
	a.embedder = eng
	return eng
}

func (a *app) schedPools() *sched.Pools {
	if a.pools == nil {
		a.pools = sched.NewPools(a.cfg.Limits)
	}
	return a.pools
}

func (a *app) retriever(source retrieval.ChunkSource) *retrieval.Engine {
	eng := retrieval.NewEngine(source, a.embedderOrNil(), a.cfg.Retrieval)
	a.engines = append(a.engines, eng)
	return eng
}

// watchConfig hot-reloads the logging gate and fusion weights while a
// long-running command executes. Errors only cost the reload feature.
func (a *app) watchConfig(ctx context.Context) {
	w, err := config.NewWatcher(workspace)
	if err != nil {
		logging.BootError("config watcher unavailable: %v", err)
		return
	}
	w.OnChange(func(cfg *config.Config) {
		if err := logging.ReloadConfig(); err != nil {
			logging.BootError("reload logging config: %v", err)
		}
		for _, eng := range a.engines {
			eng.SetConfig(cfg.Retrieval)
		}
	})
	go w.Run(ctx)
}

func (a *app) indexer(st *store.SessionStore) *ingest.Indexer {
	chunker := ingest.NewChunker(a.cfg.Research.ChunkSize, a.cfg.Research.ChunkOverlap)
	return ingest.NewIndexer(st, a.embedderOrNil(), a.schedPools(), chunker, a.cfg.Embedding.BatchSize)
}

func (a *app) snapshotter() *fetch.Snapshotter {
	return fetch.NewSnapshotter(a.cfg.Fetch, a.schedPools(), fetch.NewBrowserRenderer())
}

func (a *app) memoryService() (*memory.Service, error) {
	g, err := a.openGlobal()
	if err != nil {
		return nil, err
	}
	return memory.NewService(g, a.embedderOrNil(), a.cfg.Retrieval), nil
}

func (a *app) orchestrator(st *store.SessionStore) (*research.Orchestrator, *llm.Router, error) {
	router, err := llm.NewRouter(a.cfg.Routing)
	if err != nil {
		return nil, nil, fmt.Errorf("build router: %w", err)
	}
	acquirer := research.NewWebAcquirer(
		fetch.NewDuckDuckGoSearcher(),
		a.snapshotter(),
		a.indexer(st),
		a.cfg.Limits.FetchConcurrency,
	)
	orch := research.NewOrchestrator(st, a.retriever(st), router, acquirer, a.cfg.Research)
	return orch, router, nil
}

func sourceTypeFilter(raw []string) (types.SearchFilter, error) {
	var f types.SearchFilter
	for _, s := range raw {
		st := types.SourceType(s)
		if !st.Valid() {
			return f, fmt.Errorf("%w: unknown source type %q", types.ErrInvalidInput, s)
		}
		f.SourceTypes = append(f.SourceTypes, st)
	}
	return f, nil
}
