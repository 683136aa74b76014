package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/ovigia/authd"
	"github.com/ovigia/authd/activitymap"
	"github.com/ovigia/authd/config"
	"github.com/ovigia/authd/middleware/gateware"
	"github.com/ovigia/authd/notify"
	"github.com/ovigia/authd/social"
	"github.com/ovigia/authd/social/providers/github"
	"github.com/ovigia/authd/social/providers/google"
	"github.com/ovigia/authd/tokenstore/redisstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
)

// app holds the wired services of one authd process
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	logger auth.Logger

	db    *bun.DB
	redis *redis.Client

	repo       auth.RepositoryManager
	registry   *prometheus.Registry
	metrics    *auth.Metrics
	codec      *auth.TokenService
	tokens     *auth.TokenManager
	dispatcher *auth.Dispatcher
	flows      *auth.Flows
	auther     *auth.Authenticator
	gate       *auth.Gate
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		logger:   auth.NewSlogLogger(log),
		registry: auth.NewRegistry(),
	}
	a.metrics = auth.NewMetrics(a.registry)

	db, err := auth.OpenDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.db = db

	if cfg.Database.AutoMigrate {
		version, err := auth.Migrate(ctx, db)
		if err != nil {
			a.Close()
			return nil, err
		}
		log.Info("database migrated", "version", version)
	}

	store, err := a.tokenStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.repo = auth.NewRepositoryManager(db, auth.WithTokenStore(store))

	a.codec, err = auth.NewTokenServiceFromConfig(cfg,
		auth.WithTokenServiceLogger(a.logger),
		auth.WithTokenServiceMetrics(a.metrics),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	hasher, err := cfg.PasswordHasher()
	if err != nil {
		a.Close()
		return nil, err
	}

	notifier, err := a.notifier()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = auth.NewDispatcher(notifier, auth.WithDispatcherLogger(a.logger))

	activity := activitymap.SlogSink(log, activitymap.WithChannel(cfg.AppName))

	a.tokens = auth.NewTokenManager(a.repo.Tokens(),
		auth.WithTokenManagerLogger(a.logger),
		auth.WithTokenManagerMetrics(a.metrics),
	)

	flowOpts := append(auth.FlowOptionsFromConfig(cfg),
		auth.WithFlowHasher(hasher),
		auth.WithFlowNotifier(a.dispatcher),
		auth.WithFlowLogger(a.logger),
		auth.WithFlowActivitySink(activity),
		auth.WithPhoneRegion(cfg.PhoneRegion),
		auth.WithHashidIDs(cfg.HashidIDs),
		auth.WithExternalSignup(cfg.OAuth.Signup),
	)
	a.flows = auth.NewFlows(a.repo, a.tokens, flowOpts...)

	a.auther = auth.NewAuthenticator(a.repo.Users(), a.codec,
		auth.WithAuthenticatorHasher(hasher),
		auth.WithAuthenticatorLogger(a.logger),
		auth.WithAuthenticatorMetrics(a.metrics),
		auth.WithAuthenticatorActivitySink(activity),
		auth.WithLoginThrottle(cfg.Login.MaxAttempts, cfg.Login.Cooldown),
	)

	gateOpts := append(auth.GateOptionsFromConfig(cfg),
		auth.WithGateLogger(a.logger),
		auth.WithGateMetrics(a.metrics),
	)
	a.gate = auth.NewGate(a.codec, a.repo.Users(), gateOpts...)

	return a, nil
}

func (a *app) tokenStore(ctx context.Context) (auth.TokenStore, error) {
	switch strings.ToLower(a.cfg.Store.Backend) {
	case config.StoreMemory:
		a.log.Warn("ephemeral tokens are kept in memory and lost on restart")
		return auth.NewMemoryTokenStore(), nil
	case config.StoreRedis:
		rc := a.cfg.Store.Redis
		client, err := redisstore.Connect(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			return nil, err
		}
		a.redis = client

		var opts []redisstore.Option
		if rc.Prefix != "" {
			opts = append(opts, redisstore.WithPrefix(rc.Prefix))
		}
		return redisstore.New(client, opts...), nil
	default:
		return nil, nil
	}
}

func (a *app) notifier() (auth.Notifier, error) {
	if !a.cfg.SMTP.Enabled() {
		a.log.Warn("smtp is not configured, verification and reset links are only logged")
		return auth.LogNotifier(a.logger), nil
	}

	return notify.New(a.cfg.SMTP.Notify(),
		notify.WithLogger(a.logger),
		notify.WithAppName(a.cfg.AppName),
	)
}

func (a *app) providers() *social.Registry {
	var providers []social.Provider

	if gh := a.cfg.OAuth.GitHub; gh.Enabled() {
		providers = append(providers, github.New(github.Config{
			ClientID:     gh.ClientID,
			ClientSecret: gh.ClientSecret,
			CallbackURL:  gh.CallbackURL,
			Scopes:       gh.Scopes,
		}))
	}

	if g := a.cfg.OAuth.Google; g.Enabled() {
		providers = append(providers, google.New(google.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			CallbackURL:  g.CallbackURL,
			Scopes:       g.Scopes,
		}))
	}

	return social.NewRegistry(providers...)
}

// handler builds the router serving the API on top of fiber
func (a *app) handler() router.Server[*fiber.App] {
	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return fiber.New(fiber.Config{
			AppName:               a.cfg.AppName,
			ReadTimeout:           a.cfg.Server.ReadTimeout,
			WriteTimeout:          a.cfg.Server.WriteTimeout,
			ErrorHandler:          auth.NewErrorHandler(a.logger),
			DisableStartupMessage: true,
		})
	})

	api := srv.Router()
	api.Use(gateware.New(gateware.ConfigFrom(a.gate, a.cfg)))

	controller := auth.RegisterAuthRoutes(api,
		auth.WithControllerLogger(a.logger),
		auth.WithControllerRepo(a.repo),
		auth.WithControllerFlows(a.flows),
		auth.WithControllerAuthenticator(a.auther),
		auth.WithRouteGuards(gateware.RequireIdentity(), gateware.RequireRole(auth.RoleAdmin)),
		auth.WithControllerDebug(a.cfg.Server.Debug),
	)
	auth.RegisterMetricsRoute(srv.WrappedRouter(), controller.Routes.Metrics, a.registry)

	if registry := a.providers(); registry.Len() > 0 {
		var opts []social.StateCodecOption
		if a.cfg.OAuth.StateTTL > 0 {
			opts = append(opts, social.WithStateTTL(a.cfg.OAuth.StateTTL))
		}

		oauth := social.NewController(
			registry,
			social.NewStateCodec([]byte(a.cfg.OAuth.StateSecret), opts...),
			a.flows,
			a.auther,
			social.WithLogger(a.logger),
			social.WithSuccessRedirect(a.cfg.OAuth.SuccessRedirect),
		)
		oauth.Register(api)
		a.log.Info("external login enabled", "providers", registry.Names())
	}

	return srv
}

// lookupUser accepts a user id or an email address
func (a *app) lookupUser(ctx context.Context, identifier string) (*auth.User, error) {
	user, err := a.repo.Users().GetByIdentifier(ctx, identifier)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, auth.ErrIdentityNotFound
		}
		return nil, err
	}
	return user, nil
}

// Close releases the database and redis connections
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis client", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close database", "error", err)
		}
	}
}
