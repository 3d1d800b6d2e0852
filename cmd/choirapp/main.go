package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/choirapp/apiclient"
	"github.com/jrsteele09/choirapp/authstate"
	"github.com/jrsteele09/choirapp/deeplink"
	"github.com/jrsteele09/choirapp/internal/config"
	"github.com/jrsteele09/choirapp/metrics"
	"github.com/jrsteele09/choirapp/securestore"
	"github.com/jrsteele09/choirapp/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("Error running app")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("App stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(c.GetLogLevel())
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(c)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	authMetrics := metrics.NewAuthMetrics(reg)
	var metricsServer *http.Server
	if addr := c.GetMetricsAddr(); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: addr, Handler: mux}
		go listenAndServe(metricsServer)
	}

	sessionCfg := session.ConfigFrom(c)
	provider, err := session.NewOIDCProvider(ctx, sessionCfg, nil)
	if err != nil {
		return fmt.Errorf("session.NewOIDCProvider: %w", err)
	}
	manager, err := session.NewManager(sessionCfg, provider, store, session.WithMetrics(authMetrics))
	if err != nil {
		return fmt.Errorf("session.NewManager: %w", err)
	}
	manager.Start(ctx)
	defer manager.Close()

	agent := newTerminalAgent(os.Stdout)
	router := deeplink.NewRouter(sessionCfg.RedirectURI, manager, nil,
		deeplink.WithPostLogoutRedirectURI(sessionCfg.PostLogoutRedirectURI))
	orchestrator := authstate.NewOrchestrator(manager, router, agent)
	defer orchestrator.Close()

	renewer := newSilentRenewer(func(ctx context.Context) error {
		_, err := manager.SignInSilent(ctx)
		return err
	})
	api, err := apiclient.New(apiclient.Config{
		BaseURL:        c.GetAPIBaseURL(),
		Timeout:        c.GetAPITimeout(),
		Source:         manager,
		OnUnauthorized: func() { renewer.trigger(ctx) },
	})
	if err != nil {
		return err
	}

	unsubscribe := orchestrator.Subscribe(func(st authstate.AuthState) {
		if !st.IsLoading {
			fmt.Fprintf(os.Stdout, "[%s] %s\n", st.Status, describeUser(st))
		}
	})
	defer unsubscribe()

	var startupURL string
	if len(os.Args) > 1 {
		startupURL = os.Args[1]
	}
	orchestrator.Start(ctx, startupURL)

	urls := make(chan string)
	go router.Run(ctx, urls)

	con := &console{
		out:          os.Stdout,
		orchestrator: orchestrator,
		manager:      manager,
		router:       router,
		agent:        agent,
		api:          api,
		urls:         urls,
	}
	go con.run(ctx, os.Stdin, stop)

	<-ctx.Done()
	return shutdown(metricsServer)
}

func loadConfig() (config.Config, error) {
	path := config.GetConfigFile()
	if path == "" {
		return config.New(), nil
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return c, nil
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

// newStore returns an encrypted file store, or an in-memory store when no passphrase
// is configured.
func newStore(c config.StoreConfig) (securestore.Store, error) {
	passphrase := c.GetStorePassphrase()
	if passphrase == "" {
		log.Warn().Msg("STORE_PASSPHRASE not set, sessions will not survive a restart")
		return securestore.NewInMemoryStore(), nil
	}
	store, err := securestore.NewFileStore(c.GetStoreFolder(), passphrase)
	if err != nil {
		return nil, fmt.Errorf("securestore.NewFileStore: %w", err)
	}
	return store, nil
}

func listenAndServe(server *http.Server) {
	log.Info().Str("addr", server.Addr).Msg("Metrics listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

func shutdown(server *http.Server) error {
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
