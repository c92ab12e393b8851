// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/checkpoint"
	"github.com/JakeFAU/hood-archiver/internal/clock/system"
	"github.com/JakeFAU/hood-archiver/internal/config"
	"github.com/JakeFAU/hood-archiver/internal/crawler"
	"github.com/JakeFAU/hood-archiver/internal/document"
	collyfetcher "github.com/JakeFAU/hood-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/hood-archiver/internal/flatten"
	"github.com/JakeFAU/hood-archiver/internal/hash/sha256"
	"github.com/JakeFAU/hood-archiver/internal/id/uuid"
	"github.com/JakeFAU/hood-archiver/internal/parser"
	"github.com/JakeFAU/hood-archiver/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/hood-archiver/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/hood-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/hood-archiver/internal/storage/gcs"
	"github.com/JakeFAU/hood-archiver/internal/storage/local"
	memorystorage "github.com/JakeFAU/hood-archiver/internal/storage/memory"
	"github.com/JakeFAU/hood-archiver/internal/storage/postgres"
)

// App holds the shared, long-lived services for one CLI invocation: the
// logger, the checkpoint and document stores, the blob store for flattened
// artifacts and the publisher for flatten notifications.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	clock       crawler.Clock
	ids         crawler.IDGenerator
	hasher      *sha256.Hasher
	checkpoints crawler.CheckpointStore
	docs        *document.FileStore
	blobs       crawler.BlobStore
	publisher   crawler.Publisher
	closers     []func() error
}

// NewApp builds every service selected by cfg. It fails fast if a configured
// backend cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		hasher: sha256.New(),
		docs:   document.NewFileStore(cfg.Output.Dir, logger.Named("documents")),
	}

	if err := a.initCheckpoints(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initBlobs(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}

	logger.Debug("application services initialized",
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("pubsub", cfg.PubSub.Enabled()),
	)
	return a, nil
}

func (a *App) initCheckpoints(ctx context.Context) error {
	switch a.cfg.Checkpoint.Backend {
	case config.BackendFile:
		a.checkpoints = checkpoint.NewFileStore(a.cfg.Checkpoint.Path, a.clock, a.logger.Named("checkpoint"))
	case config.BackendPostgres:
		store, err := postgres.NewCheckpointStore(ctx, postgres.CheckpointStoreConfig{
			DSN:   a.cfg.Checkpoint.DSN,
			Table: a.cfg.Checkpoint.Table,
		}, a.clock)
		if err != nil {
			return fmt.Errorf("init postgres checkpoints: %w", err)
		}
		a.checkpoints = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	default:
		return fmt.Errorf("unknown checkpoint backend: %s", a.cfg.Checkpoint.Backend)
	}
	return nil
}

func (a *App) initBlobs(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.blobs = store
	case config.BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		}, a.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.blobs = store
		a.closers = append(a.closers, store.Close)
	case config.BackendMemory:
		a.logger.Warn("using in-memory storage; flattened artifacts are discarded on exit")
		a.blobs = memorystorage.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled() {
		a.publisher = memorypublisher.New(a.logger.Named("publisher"))
		return nil
	}
	pub, err := pubsubpublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
	if err != nil {
		return fmt.Errorf("init pubsub: %w", err)
	}
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Checkpoints returns the configured checkpoint store.
func (a *App) Checkpoints() crawler.CheckpointStore { return a.checkpoints }

// Documents returns the collection document store.
func (a *App) Documents() *document.FileStore { return a.docs }

// Blobs returns the blob store that holds flattened chunks and the index.
func (a *App) Blobs() crawler.BlobStore { return a.blobs }

// Publisher returns the flatten notification publisher.
func (a *App) Publisher() crawler.Publisher { return a.publisher }

// Fetcher builds the Colly fetcher from the crawler settings.
func (a *App) Fetcher() *collyfetcher.Fetcher {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.Crawler.RequestTimeout,
	})
}

// Engine wires a crawl engine against the configured stores.
func (a *App) Engine() *crawler.Engine {
	p := a.cfg.Parser
	return crawler.NewEngine(
		crawler.Config{
			MaxPages:  a.cfg.Crawler.MaxPages,
			PageParam: a.cfg.Crawler.PageParam,
		},
		a.Fetcher(),
		parser.New(parser.Config{
			CardSelector:      p.CardSelector,
			TitleSelector:     p.TitleSelector,
			SubtitleSelector:  p.SubtitleSelector,
			NextSelector:      p.NextSelector,
			SoundMarker:       p.SoundMarker,
			SoundIconSelector: p.SoundIconSelector,
			StripURLPrefix:    p.StripURLPrefix,
		}),
		ratelimit.New(ratelimit.Config{MinInterval: a.cfg.Crawler.MinInterval}),
		a.checkpoints,
		a.docs,
		crawler.NewExponentialRetryPolicy(a.cfg.Crawler.MaxRetries, a.cfg.Crawler.BackoffInitial, a.cfg.Crawler.BackoffMax),
		a.clock,
		a.ids,
		a.logger.Named("crawler"),
	)
}

// Flattener builds a Flattener writing to the configured blob store. A
// chunkSize of zero uses flatten.chunk_size.
func (a *App) Flattener(chunkSize int) (*flatten.Flattener, error) {
	if chunkSize <= 0 {
		chunkSize = a.cfg.Flatten.ChunkSize
	}
	return flatten.New(flatten.Config{
		Name:      a.cfg.Flatten.Name,
		ChunkSize: chunkSize,
		Topic:     a.cfg.PubSub.Topic,
	}, a.blobs, a.hasher, a.clock, a.publisher, a.logger.Named("flatten"))
}

// Reader opens the flattened set named by flatten.name.
func (a *App) Reader() *flatten.Reader {
	return flatten.NewReader(a.blobs, a.hasher, a.cfg.Flatten.Name)
}

// Close shuts down every service that holds external resources and flushes
// the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
