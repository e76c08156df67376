package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/WhyNeet/t3-chat-clone/internal/adapter/router"
	"github.com/WhyNeet/t3-chat-clone/internal/auth"
	"github.com/WhyNeet/t3-chat-clone/internal/cache"
	cachememory "github.com/WhyNeet/t3-chat-clone/internal/cache/memory"
	cacheredis "github.com/WhyNeet/t3-chat-clone/internal/cache/redis"
	"github.com/WhyNeet/t3-chat-clone/internal/completion"
	"github.com/WhyNeet/t3-chat-clone/internal/config"
	"github.com/WhyNeet/t3-chat-clone/internal/crypto"
	"github.com/WhyNeet/t3-chat-clone/internal/health"
	"github.com/WhyNeet/t3-chat-clone/internal/httpserver"
	"github.com/WhyNeet/t3-chat-clone/internal/inference"
	"github.com/WhyNeet/t3-chat-clone/internal/logging"
	"github.com/WhyNeet/t3-chat-clone/internal/metrics"
	"github.com/WhyNeet/t3-chat-clone/internal/models"
	"github.com/WhyNeet/t3-chat-clone/internal/ratelimit"
	"github.com/WhyNeet/t3-chat-clone/internal/search"
	"github.com/WhyNeet/t3-chat-clone/internal/store"
	storememory "github.com/WhyNeet/t3-chat-clone/internal/store/memory"
	storemongo "github.com/WhyNeet/t3-chat-clone/internal/store/mongo"
	"github.com/WhyNeet/t3-chat-clone/internal/store/sqlstore"
	"github.com/WhyNeet/t3-chat-clone/internal/stream"
	"github.com/WhyNeet/t3-chat-clone/internal/version"
)

const shutdownTimeout = 30 * time.Second

type backend interface {
	store.Store
	store.BlobStore
}

type openedStore struct {
	backend
	newID func() string
	close func(ctx context.Context) error
}

type openedCache struct {
	cache.Cache
	limiter ratelimit.Store
	close   func() error
}

func serve(ctx context.Context, root string) error {
	cfg, err := config.LoadChatConfig(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out, logCloser, err := logging.Output(cfg.LogFile, logging.DefaultMaxBytes)
	if err != nil {
		return fmt.Errorf("init rotating log: %w", err)
	}
	defer logCloser.Close()
	log.SetOutput(out)
	log.SetFlags(logging.Flags)
	log.SetPrefix("[chatd] ")
	log.Printf("starting %s env=%s", version.FullInfo(), cfg.Environment)

	checker := health.New(health.Config{})

	st, err := openStore(ctx, cfg, checker)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.close(closeCtx); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	kv, err := openCache(ctx, cfg, checker)
	if err != nil {
		return err
	}
	defer kv.close()

	cipher, err := crypto.NewFromHex(cfg.KeyEncryptionSecret)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	upstreams := router.New(router.OpenAIFactory(cfg.UpstreamTimeout))
	for _, p := range []struct {
		provider router.Provider
		ep       router.Endpoint
	}{
		{router.ProviderOpenRouter, router.Endpoint{BaseURL: cfg.OpenRouterBaseURL, DefaultKey: cfg.OpenRouterKey}},
		{router.ProviderChutes, router.Endpoint{BaseURL: cfg.ChutesBaseURL, DefaultKey: cfg.ChutesKey}},
	} {
		if err := upstreams.RegisterProvider(p.provider, p.ep); err != nil {
			return fmt.Errorf("register provider %s: %w", p.provider, err)
		}
		if p.ep.DefaultKey == "" {
			log.Printf("provider %s has no operator key; only users with their own key can use it", p.provider)
		}
		checker.Register(health.HTTPProbe(string(p.provider), p.ep.BaseURL, nil))
	}

	resolver, err := inference.NewResolver(inference.Options{
		Cache:    kv,
		Keys:     st,
		Cipher:   cipher,
		Defaults: upstreams,
		TTL:      cfg.CredentialTTL,
		Logger:   logging.New(out, "chatd/inference"),
	})
	if err != nil {
		return fmt.Errorf("init credential resolver: %w", err)
	}

	catalog := models.LoadOrDefault(cfg.ModelsFile, log.Default())
	log.Printf("model catalog source=%s free=%d paid=%d", catalog.Source(), len(catalog.Free()), len(catalog.Paid()))

	var searcher search.Searcher
	if cfg.SearchEnabled {
		client, err := search.New(search.Config{APIKey: cfg.SerperKey, BaseURL: cfg.SerperBaseURL})
		if err != nil {
			return fmt.Errorf("init search: %w", err)
		}
		searcher = client
	} else {
		log.Printf("web search disabled by configuration")
	}

	registry := stream.NewRegistry()
	registry.SetLogger(logging.New(out, "chatd/stream"))
	collector := metrics.NewCollector()

	svc, err := completion.NewService(completion.Options{
		Store:       st,
		Blobs:       st,
		Registry:    registry,
		Catalog:     catalog,
		Credentials: resolver,
		Clients:     upstreams,
		Searcher:    searcher,
		TitleModel:  cfg.TitleModel,
		MemoryModel: cfg.MemoryModel,
		BatchWindow: cfg.BatchWindow,
		ReaperDelay: cfg.ReaperDelay,
		TaskTimeout: cfg.TaskTimeout,
		NewID:       st.newID,
		Metrics:     collector,

		StreamIdleTimeout: cfg.StreamIdle,
	})
	if err != nil {
		return fmt.Errorf("init completion service: %w", err)
	}
	svc.SetLogger(cfg.LogLevel, logging.New(out, "chatd/completion"))

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Store:             kv.limiter,
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		Logger:            logging.New(out, "chatd/ratelimit"),
	})
	defer limiter.Close()

	var authManager *auth.Manager
	if !cfg.AuthDisabled {
		authManager, err = auth.NewManager(cfg.SessionSecret)
		if err != nil {
			return fmt.Errorf("init auth: %w", err)
		}
	} else {
		log.Printf("authorization disabled: trusting %s header", httpserver.DevUserHeader)
	}

	srv := httpserver.New(httpserver.Options{
		Completions:  svc,
		Streams:      registry,
		Catalog:      catalog,
		Auth:         authManager,
		AuthDisabled: cfg.AuthDisabled,
		RateLimiter:  limiter,
		Metrics:      collector,
		Health:       checker,
		KeepAlive:    cfg.SSEKeepAlive,
	})
	srv.SetLogger(cfg.LogLevel, logging.New(out, "chatd/http"))

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logging.New(out, "chatd/http"),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddress)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Printf("completion shutdown: %v (in flight %d)", err, svc.InFlight())
	}
	log.Printf("stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.ChatConfig, checker *health.Checker) (*openedStore, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		s, err := storemongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		checker.Register(health.Probe{Name: "mongo", Kind: health.KindStorage, Check: s.Ping})
		return &openedStore{backend: s, newID: storemongo.NewID, close: s.Close}, nil
	case config.StoreSQLite, config.StorePostgres:
		open := sqlstore.OpenSQLite
		if cfg.StoreDriver == config.StorePostgres {
			open = sqlstore.OpenPostgres
		}
		s, err := open(cfg.SQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
		}
		checker.Register(health.Probe{Name: cfg.StoreDriver, Kind: health.KindStorage, Check: s.Ping})
		return &openedStore{backend: s, close: func(context.Context) error { return s.Close() }}, nil
	default:
		log.Printf("using in-memory store; data is lost on restart")
		return &openedStore{backend: storememory.New(), close: func(context.Context) error { return nil }}, nil
	}
}

func openCache(ctx context.Context, cfg config.ChatConfig, checker *health.Checker) (*openedCache, error) {
	if cfg.CacheDriver == config.CacheRedis {
		c, err := cacheredis.Dial(ctx, cfg.RedisURI, "chatd:")
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		checker.Register(health.Probe{Name: "redis", Kind: health.KindCache, Check: c.Ping})
		return &openedCache{
			Cache:   c,
			limiter: ratelimit.NewRedisStore(c.Client(), "chatd:ratelimit:"),
			close:   c.Close,
		}, nil
	}
	return &openedCache{
		Cache:   cachememory.New(),
		limiter: ratelimit.NewMemoryStoreWithCleanup(time.Minute),
		close:   func() error { return nil },
	}, nil
}
