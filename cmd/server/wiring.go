package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	relayHandler "github.com/quipper/poc/stockproxy/internal/controller/http/relay"
	credMemory "github.com/quipper/poc/stockproxy/internal/repositories/credential/memory"
	stateMemory "github.com/quipper/poc/stockproxy/internal/repositories/state/memory"
	stateSqlite "github.com/quipper/poc/stockproxy/internal/repositories/state/sqlite"
	"github.com/quipper/poc/stockproxy/internal/service/onboarding"
	"github.com/quipper/poc/stockproxy/internal/service/stock"
	"github.com/quipper/poc/stockproxy/pkg/common/config"
	"github.com/quipper/poc/stockproxy/pkg/common/levelcache"
	"github.com/quipper/poc/stockproxy/pkg/common/logger"
	"github.com/quipper/poc/stockproxy/pkg/common/sessiontoken"
	"github.com/quipper/poc/stockproxy/pkg/common/signature"
	"github.com/quipper/poc/stockproxy/pkg/oauthstate"
	"github.com/quipper/poc/stockproxy/pkg/platform"
	credRepo "github.com/quipper/poc/stockproxy/pkg/repositories/credential"
	stateRepo "github.com/quipper/poc/stockproxy/pkg/repositories/state"
)

const maxBodySize = 1 << 20

// app holds the router and everything that must be released on shutdown.
type app struct {
	router  http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build wires repositories, codecs, the platform client and the HTTP handler from cfg.
func build(cfg *config.Config) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.close()
		return nil, err
	}

	codec, stateHealth, err := newStateCodec(cfg, a)
	if err != nil {
		return fail(fmt.Errorf("init state codec: %w", err))
	}

	var seed *credRepo.Credential
	if cfg.AdminToken != "" {
		seed = &credRepo.Credential{SubjectID: cfg.Shop, AccessToken: cfg.AdminToken, ObtainedAt: time.Now()}
	}
	creds := credMemory.NewRepo(seed)

	cache, cacheHealth, err := newCache(cfg, a)
	if err != nil {
		return fail(fmt.Errorf("init cache: %w", err))
	}

	enc, err := signature.ParseEncoding(cfg.HMACEncoding)
	if err != nil {
		return fail(err)
	}

	client := platform.NewClient(platform.Options{
		APIKey:      cfg.APIKey,
		APISecret:   cfg.APISecret,
		APIVersion:  cfg.APIVersion,
		Scopes:      cfg.Scopes,
		LocationIDs: cfg.LocationIDs,
		HTTP:        &http.Client{Timeout: cfg.UpstreamTimeout},
	})

	flow := onboarding.NewFlow(onboarding.Settings{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		AppURL:    cfg.AppURL,
		Shop:      cfg.Shop,
	}, codec, signature.NewOAuthVerifier(cfg.APISecret, enc), client, creds)

	deps := relayHandler.Deps{
		Flow:  flow,
		Stock: stock.NewService(cfg.Shop, creds, cache, client),
		Health: func(ctx context.Context) error {
			return errors.Join(stateHealth(ctx), cacheHealth(ctx))
		},
	}
	if cfg.ProxyAuth == config.ProxyAuthSessionToken {
		deps.Sessions = sessiontoken.NewVerifier(cfg.APISecret, cfg.APIKey)
	}
	if cfg.AppProxyVerify {
		deps.AppProxy = signature.NewAppProxyVerifier(cfg.APISecret)
	}
	h := relayHandler.NewHandler(deps)

	router := chi.NewRouter()
	router.Use(middleware.RequestSize(maxBodySize))
	router.Use(middleware.Recoverer)
	router.Mount("/", h.Router())
	a.router = router
	return a, nil
}

func newStateRepo(cfg *config.Config) (stateRepo.Repository, error) {
	if cfg.StateStore == "sqlite" {
		return stateSqlite.NewSQLiteRepo(cfg.StateSQLitePath)
	}
	return stateMemory.NewRepo(), nil
}

// newStateCodec returns the configured state strategy and a health probe. The
// state repository is only opened for the store-backed strategy.
func newStateCodec(cfg *config.Config, a *app) (oauthstate.Codec, func(context.Context) error, error) {
	if cfg.StateStrategy == config.StateStrategySigned {
		sc, err := oauthstate.NewSignedCodec(cfg.APISecret)
		if err != nil {
			return nil, nil, err
		}
		return sc, func(context.Context) error { return nil }, nil
	}
	states, err := newStateRepo(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init state repo: %w", err)
	}
	a.closers = append(a.closers, states.Disconnect)

	sc := oauthstate.NewStoreCodec(states, oauthstate.WithTTL(cfg.StateTTL), oauthstate.WithConsume(cfg.StateConsume))
	if cfg.StateTTL > 0 {
		a.closers = append(a.closers, sweepEvery(cfg.StateTTL, func(ctx context.Context) (int, error) {
			return sc.Sweep(ctx)
		}))
	}
	return sc, states.Health, nil
}

// newCache returns Redis when REDIS_URL is set and the in-process cache otherwise,
// together with a health probe.
func newCache(cfg *config.Config, a *app) (levelcache.Cache, func(context.Context) error, error) {
	if cfg.RedisURL != "" {
		rc, err := levelcache.NewRedisFromURL(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() {
			if err := rc.Close(); err != nil {
				logger.Error("close redis: %v", err)
			}
		})
		return rc, rc.Ping, nil
	}
	mc := levelcache.NewMemory(cfg.CacheTTL)
	mc.StartSweeper(cfg.CacheSweepInterval)
	a.closers = append(a.closers, mc.Stop)
	return mc, func(context.Context) error { return nil }, nil
}

// sweepEvery calls fn every interval until the returned stop func is called.
func sweepEvery(interval time.Duration, fn func(ctx context.Context) (int, error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := fn(ctx)
				if err != nil {
					logger.Error("state sweep: %v", err)
				} else if n > 0 {
					logger.Debug("state sweep: removed %d expired nonces", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}
