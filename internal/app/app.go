// Package app builds the long-lived services of a crawl from configuration
// and runs it to completion. It is the only place that knows which backend
// implements each interface.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/placescrawler/internal/api"
	"github.com/JakeFAU/placescrawler/internal/blockdetect"
	"github.com/JakeFAU/placescrawler/internal/clock/system"
	"github.com/JakeFAU/placescrawler/internal/config"
	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/dedup"
	"github.com/JakeFAU/placescrawler/internal/dispatcher"
	"github.com/JakeFAU/placescrawler/internal/enrich"
	"github.com/JakeFAU/placescrawler/internal/geo"
	"github.com/JakeFAU/placescrawler/internal/hash/sha256"
	"github.com/JakeFAU/placescrawler/internal/id/uuid"
	memorykv "github.com/JakeFAU/placescrawler/internal/kv/memory"
	postgreskv "github.com/JakeFAU/placescrawler/internal/kv/postgres"
	sqlitekv "github.com/JakeFAU/placescrawler/internal/kv/sqlite"
	pubsubpublisher "github.com/JakeFAU/placescrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/placescrawler/internal/queue/memory"
	"github.com/JakeFAU/placescrawler/internal/render/chromedp"
	"github.com/JakeFAU/placescrawler/internal/session"
	gcssink "github.com/JakeFAU/placescrawler/internal/sink/gcs"
	jsonlsink "github.com/JakeFAU/placescrawler/internal/sink/jsonl"
	memorysink "github.com/JakeFAU/placescrawler/internal/sink/memory"
	postgressink "github.com/JakeFAU/placescrawler/internal/sink/postgres"
	"github.com/JakeFAU/placescrawler/internal/stage"
	"github.com/JakeFAU/placescrawler/internal/worker"
)

// Dedup namespaces.
const (
	placesNamespace  = "places"
	reviewsNamespace = "reviews"
)

const finalizeTimeout = 30 * time.Second

// Options override pieces New would otherwise build from configuration.
// Zero values fall back to the configured backends.
type Options struct {
	SessionFactory session.Factory
	Sink           crawler.RecordSink
	Publisher      crawler.Publisher
	PlacesKV       crawler.KVStore
	ReviewsKV      crawler.KVStore
	Clock          crawler.Clock
	IDs            crawler.IDGenerator
	Logger         *zap.Logger
}

// App holds the services of one crawl run.
type App struct {
	cfg    config.Config
	input  config.Normalized
	runID  string
	clock  crawler.Clock
	logger *zap.Logger

	queue      *memory.Queue
	sessions   *session.Pool
	places     *dedup.Store
	reviews    *dedup.Store
	sink       crawler.RecordSink
	publisher  crawler.Publisher
	dispatcher *dispatcher.Dispatcher

	// closers run after the sink and dedup stores, in order.
	closers []func() error
}

// New wires every service named by cfg. Anything built before a failure is
// released before returning.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	input, err := cfg.Input.Normalize()
	if err != nil {
		return nil, fmt.Errorf("normalize input: %w", err)
	}

	a := &App{
		cfg:       cfg,
		input:     input,
		clock:     opts.Clock,
		logger:    logger,
		sink:      opts.Sink,
		publisher: opts.Publisher,
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	ids := opts.IDs
	if ids == nil {
		ids = uuid.New()
	}
	if a.runID, err = ids.NewID(); err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a.logger = a.logger.With(zap.String("run_id", a.runID))

	if err := a.build(ctx, opts); err != nil {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			a.logger.Warn("failed to release partially built services", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	placesKV, err := a.openKV(ctx, opts.PlacesKV, placesNamespace)
	if err != nil {
		return err
	}
	a.places = dedup.New(placesNamespace, placesKV, a.cfg.Dedup.PlaceCapacity)

	reviewsKV, err := a.openKV(ctx, opts.ReviewsKV, reviewsNamespace)
	if err != nil {
		return err
	}
	a.reviews = dedup.New(reviewsNamespace, reviewsKV, a.cfg.Dedup.ReviewCapacity)

	if a.sink == nil {
		if a.sink, err = a.openSink(ctx); err != nil {
			return err
		}
	}
	if a.publisher == nil && a.cfg.PubSub.Topic != "" {
		if err := a.openPublisher(ctx); err != nil {
			return err
		}
	}

	factory := opts.SessionFactory
	if factory == nil {
		factory = browserFactory(a.cfg.Crawler, a.input)
	}
	a.sessions = session.NewPool(factory, session.Config{
		Proxies:  a.cfg.Crawler.Proxies,
		MaxUsage: a.cfg.Crawler.SessionMaxUsage,
	}, a.logger.Named("sessions"))
	a.closers = append(a.closers, a.sessions.Close)

	a.queue = memory.NewQueue()
	a.dispatcher = dispatcher.New(a.queue, a.buildWorkers())
	return nil
}

func (a *App) buildWorkers() []*worker.Worker {
	hasher := sha256.New()
	detector := blockdetect.NewHeuristic(nil, nil)
	stageCfg := a.stageConfig()

	var enricher stage.Enricher
	if a.input.EnrichContacts || a.input.EnrichLeads || len(a.input.SocialNetworks) > 0 {
		ec := a.cfg.Enrichment
		fetcher := enrich.NewFetcher(enrich.FetcherConfig{
			UserAgent:     ec.UserAgent,
			RespectRobots: ec.RespectRobots,
			Timeout:       ec.Timeout,
		}, enrich.NewLimiter(ec.RequestsPerSecond, ec.Burst))
		enricher = enrich.NewService(fetcher, hasher, enrich.Config{
			MaxContactPages: ec.MaxContactPages,
			MaxLeadPages:    ec.MaxLeadPages,
		}, a.logger)
	}

	stages := worker.Stages{
		Search: stage.NewSearch(stageCfg, detector, a.places, a.queue, a.logger),
		Place: stage.NewPlace(stageCfg, stage.PlaceOptions{
			ExtractReviews: a.input.ExtractReviews,
			MaxReviews:     a.input.MaxReviews,
			EnrichContacts: a.input.EnrichContacts,
			EnrichLeads:    a.input.EnrichLeads,
			SocialNetworks: a.input.SocialNetworks,
		}, stage.PlaceDeps{
			Detector: detector,
			Enricher: enricher,
			Sink:     a.sink,
			Queue:    a.queue,
			Hasher:   hasher,
			Clock:    a.clock,
			Logger:   a.logger,
		}),
		Reviews: stage.NewReviews(stageCfg, stage.ReviewsDeps{
			Detector: detector,
			Dedup:    a.reviews,
			Sink:     a.sink,
			Queue:    a.queue,
			Hasher:   hasher,
			Clock:    a.clock,
			Logger:   a.logger,
		}),
	}

	cc := a.cfg.Crawler
	retry := crawler.NewExponentialRetryPolicy(cc.MaxRetries, cc.BackoffInitial, cc.BackoffMax)
	workers := make([]*worker.Worker, 0, cc.Concurrency)
	for i := range max(cc.Concurrency, 1) {
		workers = append(workers, worker.New(i, a.queue, a.sessions, stages, retry,
			worker.Config{RequestTimeout: cc.RequestTimeout}, a.logger))
	}
	return workers
}

func (a *App) stageConfig() stage.Config {
	cc := a.cfg.Crawler
	return stage.Config{
		WaitTimeout:            cc.WaitTimeout,
		SearchScrollIterations: cc.SearchScrollIterations,
		ReviewScrollIterations: cc.ReviewScrollIterations,
		StagnationPasses:       cc.StagnationPasses,
		ReviewFlushSize:        cc.ReviewFlushSize,
		ReviewsPerRequest:      cc.ReviewsPerRequest,
		ScrollDelay:            cc.ScrollDelay,
		ScrollJitter:           cc.ScrollJitter,
		PanelDelay:             cc.PanelDelay,
		Tiling: geo.Options{
			TileSizeKm: cc.TileSizeKm,
			Zoom:       cc.Zoom,
			MaxTiles:   cc.MaxTiles,
		},
	}
}

func (a *App) openKV(ctx context.Context, override crawler.KVStore, namespace string) (crawler.KVStore, error) {
	if override != nil {
		return override, nil
	}
	dc := a.cfg.Dedup
	switch dc.Backend {
	case config.BackendMemory:
		return memorykv.New(), nil
	case config.BackendSQLite:
		kv, err := sqlitekv.Open(ctx, dc.SQLitePath, namespace)
		if err != nil {
			return nil, fmt.Errorf("open %s dedup store: %w", namespace, err)
		}
		return kv, nil
	case config.BackendPostgres:
		kv, err := postgreskv.New(ctx, postgreskv.Config{
			DSN:       dc.PostgresDSN,
			Table:     dc.PostgresTable,
			Namespace: namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s dedup store: %w", namespace, err)
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unsupported dedup backend %q", dc.Backend)
	}
}

func (a *App) openSink(ctx context.Context) (crawler.RecordSink, error) {
	sc := a.cfg.Sink
	switch sc.Backend {
	case config.BackendMemory:
		return memorysink.New(), nil
	case config.BackendJSONL:
		s, err := jsonlsink.New(jsonlsink.Config{BaseDir: sc.Dir})
		if err != nil {
			return nil, fmt.Errorf("open jsonl sink: %w", err)
		}
		return s, nil
	case config.BackendPostgres:
		s, err := postgressink.New(ctx, postgressink.Config{
			DSN:      sc.DSN,
			Table:    sc.Table,
			MaxConns: sc.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}
		return s, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		s, err := gcssink.New(client, gcssink.Config{
			Bucket:       sc.Bucket,
			Prefix:       sc.Prefix,
			RunID:        a.runID,
			FlushRecords: sc.FlushRecords,
		})
		if err != nil {
			return nil, fmt.Errorf("open gcs sink: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported sink backend %q", sc.Backend)
	}
}

func (a *App) openPublisher(ctx context.Context) error {
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client, a.cfg.PubSub.Topic, map[string]string{"run_id": a.runID})
	a.publisher = pub
	a.closers = append(a.closers, func() error {
		pub.Close()
		return client.Close()
	})
	return nil
}

func browserFactory(cc config.CrawlerConfig, input config.Normalized) session.Factory {
	language := config.DefaultLanguage
	if len(input.Jobs) > 0 {
		language = input.Jobs[0].Language
	}
	rc := chromedp.Config{
		Headless:          cc.Headless,
		UserAgent:         cc.UserAgent,
		Language:          language,
		NavigationTimeout: cc.NavigationTimeout,
		ActionTimeout:     cc.ActionTimeout,
		ExecPath:          cc.ChromePath,
	}
	return func(ctx context.Context, proxyURL string) (crawler.Page, io.Closer, error) {
		page, err := chromedp.Open(ctx, rc, proxyURL)
		if err != nil {
			return nil, nil, err
		}
		return page, page, nil
	}
}

// RunID identifies this run in records, objects and the summary.
func (a *App) RunID() string { return a.runID }

// Stats returns the statistics merged so far.
func (a *App) Stats() crawler.RunStats { return a.dispatcher.Stats() }

// Run seeds one SEARCH request per job, drains the queue, then writes and
// publishes the run summary. The summary is written even when ctx is
// cancelled mid-run; the cancellation is still returned.
func (a *App) Run(ctx context.Context) (crawler.Summary, error) {
	started := a.clock.Now()

	reqs := make([]crawler.Request, 0, len(a.input.Jobs))
	for _, job := range a.input.Jobs {
		reqs = append(reqs, crawler.SearchRequest{SearchJobID: job.ID, Job: job})
	}
	seeded, err := a.dispatcher.Seed(ctx, reqs...)
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("seed queue: %w", err)
	}
	a.logger.Info("crawl started",
		zap.Int("jobs", len(a.input.Jobs)),
		zap.Int("seeded", seeded),
		zap.Int("workers", max(a.cfg.Crawler.Concurrency, 1)),
	)

	runErr := a.drain(ctx, started)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	stats := a.dispatcher.Stats()
	summary := crawler.NewSummary(a.runID, stats, started, a.clock.Now())
	if err := a.sink.Append(finishCtx, crawler.CollectionSummary, summary); err != nil {
		return summary, errors.Join(runErr, fmt.Errorf("write summary: %w", err))
	}
	if a.publisher != nil {
		msgID, err := a.publisher.Publish(finishCtx, "", summary)
		if err != nil {
			a.logger.Warn("failed to publish run summary", zap.Error(err))
		} else {
			a.logger.Debug("published run summary", zap.String("message_id", msgID))
		}
	}

	a.logger.Info("crawl finished",
		zap.Int("places_scraped", stats.PlacesScraped),
		zap.Int("reviews_scraped", stats.ReviewsScraped),
		zap.Int("requests_succeeded", stats.RequestsSucceeded),
		zap.Int("requests_retried", stats.RequestsRetried),
		zap.Int("requests_dropped", stats.RequestsDropped),
		zap.Int("soft_blocks", stats.SoftBlocks),
		zap.Duration("elapsed", summary.FinishedAt.Sub(started)),
	)
	return summary, runErr
}

// drain runs the workers, plus the status server when a port is configured.
// The server stops once the workers are done.
func (a *App) drain(ctx context.Context, started time.Time) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if port := a.cfg.Server.Port; port > 0 {
		srv := api.NewServer(api.Options{
			RunID:     a.runID,
			StartedAt: started,
			Stats:     a.dispatcher,
			Pending:   a.queue.Len,
			Clock:     a.clock,
			APIKey:    a.cfg.Server.APIKey,
			Logger:    a.logger,
		})
		g.Go(func() error {
			return srv.ListenAndServe(gctx, fmt.Sprintf(":%d", port))
		})
	}
	g.Go(func() error {
		defer stop()
		return a.dispatcher.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	// Workers abandon in-flight requests on cancellation and may then see
	// an empty queue.
	return ctx.Err()
}

// Close releases every service. It keeps going past failures and returns
// them joined.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	closeOne := func(name string, fn func() error) {
		if err := fn(); err != nil {
			a.logger.Warn("failed to close service", zap.String("service", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.sink != nil {
		closeOne("sink", func() error { return a.sink.Close(ctx) })
	}
	if a.places != nil {
		closeOne("places dedup", a.places.Close)
	}
	if a.reviews != nil {
		closeOne("reviews dedup", a.reviews.Close)
	}
	for _, fn := range a.closers {
		closeOne("resource", fn)
	}
	return errors.Join(errs...)
}
