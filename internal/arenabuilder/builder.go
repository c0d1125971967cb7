// Package arenabuilder wires configuration into the running components.
package arenabuilder

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/threeslide-arena/internal/config"
	"github.com/park285/threeslide-arena/internal/httpapi"
	"github.com/park285/threeslide-arena/internal/identity"
	"github.com/park285/threeslide-arena/internal/matchmaking"
	"github.com/park285/threeslide-arena/internal/msgcat"
	"github.com/park285/threeslide-arena/internal/rating"
	"github.com/park285/threeslide-arena/internal/records"
	"github.com/park285/threeslide-arena/internal/session"
	"github.com/park285/threeslide-arena/internal/wsgate"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const startupTimeout = 5 * time.Second

// Deps holds every wired component plus the clients Close must release.
type Deps struct {
	Handler   http.Handler
	Gateway   *wsgate.Gateway
	Queue     *matchmaking.Queue
	Searcher  *matchmaking.Searcher
	Registry  *session.Registry
	Directory *rating.Directory
	Reporter  *records.Reporter
	Store     records.Store

	rdb  *redis.Client
	repo *records.Repository
	log  *zap.Logger
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{log: logger}

	messages, err := msgcat.New(cfg.MessagesLang, cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	// Rating cache (Redis optional)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, perr := parseRedisURL(cfg.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("parse redis url: %w", perr)
		}
		d.rdb = redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		if err := d.rdb.Ping(ctx).Err(); err != nil {
			_ = d.rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	} else {
		logger.Warn("rating_cache_disabled", zap.String("reason", "REDIS_URL empty"))
	}
	provider := identity.NewClient(cfg.IdentityBaseURL)
	d.Directory = rating.NewDirectory(provider, d.rdb, cfg.RatingCacheTTL)

	// Record store (postgres optional)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		repo, err := records.NewRepository(cfg.DatabaseURL)
		if err != nil {
			d.closeClients()
			return nil, fmt.Errorf("init records repository: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		if err := repo.Migrate(ctx); err != nil {
			_ = repo.Close()
			d.closeClients()
			return nil, fmt.Errorf("migrate records: %w", err)
		}
		d.repo = repo
		d.Store = repo
	} else {
		logger.Warn("records_in_memory", zap.String("reason", "DATABASE_URL empty"))
		d.Store = records.NewMemoryRepository()
	}
	d.Reporter = records.NewReporter(d.Store, cfg.PersistTimeout)

	d.Registry = session.NewRegistry(
		session.WithRevealDelay(cfg.RevealDelay),
		session.WithRecorder(d.Reporter),
		session.WithLogger(logger),
	)
	d.Queue = matchmaking.NewQueue(func(a, b matchmaking.Party) error {
		_, err := d.Registry.CreateRoom(a, b)
		return err
	})
	d.Searcher = matchmaking.NewSearcher(
		matchmaking.RangePolicy{Initial: cfg.SearchRangeInitial, Step: cfg.SearchRangeStep, Delay: cfg.SearchDelay},
		matchmaking.WithPairedHook(func(m matchmaking.Match) { d.Reporter.Report(SearchRecord(m)) }),
	)

	d.Gateway = wsgate.New(d.Queue, d.Registry,
		wsgate.WithRatings(d.Directory),
		wsgate.WithMessages(messages),
		wsgate.WithLogger(logger),
		wsgate.WithOriginPatterns(cfg.AllowedOrigins...),
	)
	d.Handler = httpapi.NewServer(httpapi.Deps{
		Auth:     d.Directory,
		Searcher: d.Searcher,
		Queue:    d.Queue,
		Rooms:    d.Registry,
		Store:    d.Store,
		Gateway:  d.Gateway,
		Messages: messages,
		Logger:   logger,
	})
	return d, nil
}

// SearchRecord converts a paired poll-path match into its store row.
func SearchRecord(m matchmaking.Match) records.MatchRecord {
	rec := records.MatchRecord{
		MatchID:   m.ID,
		Status:    records.Status(m.Status),
		WinnerID:  m.Winner,
		Source:    records.SourceSearch,
		StartedAt: m.CreatedAt,
	}
	for _, p := range m.Players {
		rec.Players = append(rec.Players, records.Player{UserID: p.UserID, Pseudo: p.Pseudo, Rating: p.Rating})
	}
	return rec
}

// Close stops intake first, then drains pending saves before closing clients.
func (d *Deps) Close(ctx context.Context) error {
	var firstErr error
	if err := d.Gateway.Close(ctx); err != nil {
		firstErr = err
	}
	d.Searcher.Close()
	d.Registry.Close()
	if err := d.Reporter.Wait(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	d.closeClients()
	if d.repo != nil {
		if err := d.repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Deps) closeClients() {
	if d.rdb != nil {
		if err := d.rdb.Close(); err != nil {
			d.log.Warn("redis_close_error", zap.Error(err))
		}
	}
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	host := u.Hostname()
	portStr := u.Port()
	if portStr == "" {
		portStr = "6379"
	}
	if _, err := strconv.Atoi(portStr); err != nil {
		return nil, err
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: host + ":" + portStr, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}
