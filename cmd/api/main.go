package main

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/nimbushost/nimbus/auth"
	"github.com/nimbushost/nimbus/db"
	"github.com/nimbushost/nimbus/invoice"
	"github.com/nimbushost/nimbus/notification"
	"github.com/nimbushost/nimbus/order"
	"github.com/nimbushost/nimbus/payment"
	"github.com/nimbushost/nimbus/pricing"
	"github.com/nimbushost/nimbus/provider"
	"github.com/nimbushost/nimbus/ratelimit"
	"github.com/nimbushost/nimbus/snapshot"
	"github.com/nimbushost/nimbus/vault"
	"github.com/nimbushost/nimbus/vps"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot initialize zapsentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	dbConn, err := db.New(db.Options{
		Logger:       logger,
		URI:          os.Getenv("POSTGRES_URI"),
		MaxOpenConns: 25,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	notifier, err := notification.NewAMQPNotifier(logger, os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Message Broker",
			zap.Error(err),
		)
	}
	defer notifier.Close()

	credentialVault, err := vault.New(vault.Options{
		Secret:        os.Getenv("VAULT_SECRET"),
		Logger:        logger,
		AllowFallback: authEnvironment == auth.EnvDevelopment,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Vault",
			zap.Error(err),
		)
	}

	providerClient, err := provider.NewClient(provider.Options{
		BaseURL:      os.Getenv("PROVIDER_BASE_URL"),
		AuthURL:      os.Getenv("PROVIDER_AUTH_URL"),
		ClientID:     os.Getenv("PROVIDER_CLIENT_ID"),
		ClientSecret: os.Getenv("PROVIDER_CLIENT_SECRET"),
		APIUser:      os.Getenv("PROVIDER_API_USER"),
		APIPassword:  os.Getenv("PROVIDER_API_PASSWORD"),
		TokenCache:   provider.NewTokenCache(),
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Provider Client",
			zap.Error(err),
		)
	}

	catalog, err := pricing.LoadCatalog(os.Getenv("CATALOG_PATH"))
	if err != nil {
		logger.Fatal("Cannot load pricing catalog",
			zap.Error(err),
		)
	}

	gateway, err := payment.NewStripeGateway(payment.StripeOptions{
		Client: payment.NewStripeClient(os.Getenv("STRIPE_KEY")),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Payment Gateway",
			zap.Error(err),
		)
	}

	orderManager, err := order.NewManager(logger, dbConn)
	if err != nil {
		logger.Fatal("Cannot initialize OrderManager",
			zap.Error(err),
		)
	}

	invoiceManager, err := invoice.NewManager(invoice.Options{
		DB:                 dbConn,
		Logger:             logger,
		TaxRateBasisPoints: 1900,
	})
	if err != nil {
		logger.Fatal("Cannot initialize InvoiceManager",
			zap.Error(err),
		)
	}

	transitioner, err := order.NewTransitioner(order.TransitionerOptions{
		Store:  orderManager,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Transitioner",
			zap.Error(err),
		)
	}
	transitioner.OnTransition(invoice.TransitionHook(invoiceManager))

	instanceManager, err := vps.NewManager(logger, dbConn)
	if err != nil {
		logger.Fatal("Cannot initialize InstanceManager",
			zap.Error(err),
		)
	}

	snapshotManager, err := snapshot.NewManager(logger, dbConn)
	if err != nil {
		logger.Fatal("Cannot initialize SnapshotManager",
			zap.Error(err),
		)
	}

	orchestrator, err := vps.NewOrchestrator(vps.OrchestratorOptions{
		Instances:     instanceManager,
		Orders:        orderManager,
		Transitioner:  transitioner,
		Vault:         credentialVault,
		Notifier:      notifier,
		Logger:        logger,
		DashboardLink: os.Getenv("DASHBOARD_LINK"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize Orchestrator",
			zap.Error(err),
		)
	}

	proxy, err := vps.NewActionProxy(vps.ProxyOptions{
		Instances: instanceManager,
		Provider:  providerClient,
		Vault:     credentialVault,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize ActionProxy",
			zap.Error(err),
		)
	}

	syncer, err := vps.NewSnapshotSyncer(vps.SyncerOptions{
		Instances: instanceManager,
		Snapshots: snapshotManager,
		Provider:  providerClient,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SnapshotSyncer",
			zap.Error(err),
		)
	}

	authManager, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		Environment:   authEnvironment,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	limiter, err := ratelimit.New(ratelimit.Options{
		Redis:  rdb,
		Logger: logger,
		Prefix: "nimbus:ratelimit",
		Limit:  120,
		Window: time.Minute,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Limiter",
			zap.Error(err),
		)
	}

	orderRouter, err := order.NewService(order.ServiceOptions{
		OrderManager: orderManager,
		Transitioner: transitioner,
		Catalog:      catalog,
		Gateway:      gateway,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Order Service Router",
			zap.Error(err),
		)
	}

	vpsRouter, err := vps.NewService(vps.ServiceOptions{
		InstanceManager: instanceManager,
		Proxy:           proxy,
		Orchestrator:    orchestrator,
		Syncer:          syncer,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize VPS Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{os.Getenv("SITE_URL")},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rootRouter.Group(func(r chi.Router) {
		r.Use(authManager.Middleware())
		r.Use(limiter.Middleware())
		r.Mount("/orders", orderRouter.Router())
		r.Mount("/vps", vpsRouter.Router())
	})

	rootRouter.Group(func(r chi.Router) {
		r.Use(authManager.Middleware())
		r.Use(authManager.AdminOnly())
		r.Mount("/admin/orders", orderRouter.AdminRouter())
		r.Mount("/admin/vps", vpsRouter.AdminRouter())
	})

	rootRouter.HandleFunc("/pprof/*", pprof.Index)
	rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
	rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
	rootRouter.HandleFunc("/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    ":42069",
	}

	log.Fatalln(srv.ListenAndServe())
}
