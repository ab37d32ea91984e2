package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fractionalquest/copilot/pkg/adapter"
	"github.com/fractionalquest/copilot/pkg/catalog"
	"github.com/fractionalquest/copilot/pkg/graph"
	"github.com/fractionalquest/copilot/pkg/interfaces"
	"github.com/fractionalquest/copilot/pkg/repository"
	"github.com/fractionalquest/copilot/pkg/service/sidechannel"
	"github.com/fractionalquest/copilot/pkg/tool"
	"github.com/fractionalquest/copilot/pkg/tool/confirm"
	"github.com/fractionalquest/copilot/pkg/tool/jobs"
	"github.com/fractionalquest/copilot/pkg/tool/profile"
	"github.com/fractionalquest/copilot/pkg/usecase/chat"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Memory store
	project      string
	database     string
	memoryURL    string
	memoryAPIKey string
	memoryWait   time.Duration
	graphTimeout time.Duration

	// Adapters
	geminiProject  string
	geminiLocation string
	geminiModel    string

	// Job catalog
	catalogPath string

	// Transcript archive
	archiveBucket string
	archivePrefix string

	// Agent
	maxIterations int64
	stateDebounce time.Duration
	sideWorkers   int64
	sideTimeout   time.Duration

	// tools share the client filled in by setup
	client *tool.Client
	tools  *tool.Registry
}

func newConfig() *config {
	cfg := &config{client: &tool.Client{}}
	cfg.tools = tool.New(
		jobs.NewSearch(cfg.client),
		jobs.NewChart(cfg.client),
		profile.NewInterestGraph(cfg.client),
		mustConfirm(),
	)
	return cfg
}

func mustConfirm() tool.Tool {
	t, err := confirm.New()
	if err != nil {
		panic(err)
	}
	return t
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("COPILOT_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("COPILOT_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "catalog",
			Usage:       "Path to a YAML job catalog; the built-in catalog is used when empty",
			Sources:     cli.EnvVars("COPILOT_CATALOG"),
			Destination: &cfg.catalogPath,
		},
	}
}

// memoryFlags select the memory store: the remote memory API when a URL is set,
// Firestore when a project is set, an in-process store otherwise
func memoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "memory-url",
			Usage:       "Base URL of the memory service",
			Sources:     cli.EnvVars("COPILOT_MEMORY_URL"),
			Destination: &cfg.memoryURL,
		},
		&cli.StringFlag{
			Name:        "memory-api-key",
			Usage:       "API key of the memory service",
			Sources:     cli.EnvVars("COPILOT_MEMORY_API_KEY"),
			Destination: &cfg.memoryAPIKey,
		},
		&cli.DurationFlag{
			Name:        "memory-write-timeout",
			Usage:       "How long a confirmation waits for its memory write",
			Value:       chat.DefaultMemoryWriteTimeout,
			Sources:     cli.EnvVars("COPILOT_MEMORY_WRITE_TIMEOUT"),
			Destination: &cfg.memoryWait,
		},
		&cli.DurationFlag{
			Name:        "graph-timeout",
			Usage:       "Timeout of the interest graph read",
			Value:       graph.DefaultTimeout,
			Sources:     cli.EnvVars("COPILOT_GRAPH_TIMEOUT"),
			Destination: &cfg.graphTimeout,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID of the Firestore memory store",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.IntFlag{
			Name:        "max-iterations",
			Usage:       "Maximum tool call iterations per message",
			Value:       6,
			Sources:     cli.EnvVars("COPILOT_MAX_ITERATIONS"),
			Destination: &cfg.maxIterations,
		},
	}
}

// sessionFlags configure the session plumbing
func sessionFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:        "state-debounce",
			Usage:       "Debounce window of the shared state channel",
			Value:       150 * time.Millisecond,
			Sources:     cli.EnvVars("COPILOT_STATE_DEBOUNCE"),
			Destination: &cfg.stateDebounce,
		},
		&cli.IntFlag{
			Name:        "side-workers",
			Usage:       "Workers for best-effort memory and archive writes",
			Value:       4,
			Sources:     cli.EnvVars("COPILOT_SIDE_WORKERS"),
			Destination: &cfg.sideWorkers,
		},
		&cli.DurationFlag{
			Name:        "side-timeout",
			Usage:       "Timeout of a single best-effort write",
			Value:       10 * time.Second,
			Sources:     cli.EnvVars("COPILOT_SIDE_TIMEOUT"),
			Destination: &cfg.sideTimeout,
		},
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket for session transcripts; archiving is off when empty",
			Sources:     cli.EnvVars("COPILOT_ARCHIVE_BUCKET"),
			Destination: &cfg.archiveBucket,
		},
		&cli.StringFlag{
			Name:        "archive-prefix",
			Usage:       "Object prefix for session transcripts",
			Value:       "transcripts",
			Sources:     cli.EnvVars("COPILOT_ARCHIVE_PREFIX"),
			Destination: &cfg.archivePrefix,
		},
	}
}

// setupLogger installs the configured logger as default and into ctx
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr, logging.WithFormat(cfg.logFormat))
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.geminiModel))
}

// newMemoryStore creates the configured memory store and a function releasing it
func (cfg *config) newMemoryStore(ctx context.Context) (interfaces.MemoryStore, func(), error) {
	switch {
	case cfg.memoryURL != "":
		logging.From(ctx).Info("using memory service", slog.String("url", cfg.memoryURL))
		return adapter.NewMemoryAPI(cfg.memoryURL,
			adapter.WithMemoryAPIKey(cfg.memoryAPIKey),
			adapter.WithMemoryTimeout(cfg.graphTimeout),
		), func() {}, nil

	case cfg.project != "":
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create memory store",
				goerr.V("project", cfg.project), goerr.V("database", cfg.database))
		}
		logging.From(ctx).Info("using firestore memory store",
			slog.String("project", cfg.project), slog.String("database", cfg.database))
		return repo, func() {
			if err := repo.Close(); err != nil {
				logging.From(ctx).Warn("failed to close firestore", "error", err)
			}
		}, nil

	default:
		logging.From(ctx).Warn("no memory store configured, memory is kept in process")
		return repository.NewMemory(), func() {}, nil
	}
}

// newCatalog loads the job catalog
func (cfg *config) newCatalog() (*catalog.Catalog, error) {
	if cfg.catalogPath == "" {
		return catalog.Default(), nil
	}
	c, err := catalog.Load(cfg.catalogPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load catalog", goerr.V("path", cfg.catalogPath))
	}
	return c, nil
}

// newArchive creates the transcript archive, nil when no bucket is configured
func (cfg *config) newArchive(ctx context.Context) (interfaces.TranscriptArchive, error) {
	if cfg.archiveBucket == "" {
		return nil, nil
	}
	storage, err := adapter.NewStorage(ctx, cfg.archiveBucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return adapter.NewTranscriptArchive(storage, cfg.archivePrefix), nil
}

// environment is everything a command needs to mount sessions
type environment struct {
	input   chat.NewInput
	catalog *catalog.Catalog
	side    *sidechannel.Runner
	close   func()
}

// setup builds the collaborators shared by every session
func (cfg *config) setup(ctx context.Context) (*environment, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := cfg.newCatalog()
	if err != nil {
		return nil, err
	}
	memory, closeMemory, err := cfg.newMemoryStore(ctx)
	if err != nil {
		return nil, err
	}
	archive, err := cfg.newArchive(ctx)
	if err != nil {
		closeMemory()
		return nil, err
	}

	loader := graph.NewLoader(memory, graph.WithTimeout(cfg.graphTimeout))
	cfg.client.Jobs = cat
	cfg.client.Memory = memory
	cfg.client.Graph = loader

	side := sidechannel.New(
		sidechannel.WithWorkers(int(cfg.sideWorkers)),
		sidechannel.WithTimeout(cfg.sideTimeout),
	)

	env := &environment{
		input: chat.NewInput{
			Gemini:             gemini,
			Tools:              cfg.tools,
			Memory:             memory,
			Graphs:             loader,
			SideChannel:        side,
			Archive:            archive,
			StateDebounce:      cfg.stateDebounce,
			MemoryWriteTimeout: cfg.memoryWait,
			MaxIterations:      int(cfg.maxIterations),
		},
		catalog: cat,
		side:    side,
	}
	env.close = func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.sideTimeout)
		defer cancel()
		if err := side.Close(closeCtx); err != nil {
			logging.From(ctx).Warn("pending writes dropped on shutdown", "error", err)
		}
		closeMemory()
	}
	return env, nil
}
