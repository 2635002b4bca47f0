package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/VideoLaunch/internal/adapters/http"
	"github.com/dkeye/VideoLaunch/internal/app"
	"github.com/dkeye/VideoLaunch/internal/app/schedule"
	"github.com/dkeye/VideoLaunch/internal/calendar"
	"github.com/dkeye/VideoLaunch/internal/config"
	"github.com/dkeye/VideoLaunch/internal/credential"
	"github.com/dkeye/VideoLaunch/internal/signer"
	"github.com/dkeye/VideoLaunch/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	db, err := store.Open(cfg.Schedule.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Schedule.DBPath).Msg("failed to open session store")
	}
	defer db.Close()

	// Validate already checked the zone name.
	loc, _ := time.LoadLocation(cfg.Schedule.TimeZone)
	var events schedule.EventCreator
	if cfg.Calendar.Enabled() {
		events = calendar.NewClient(calendar.Config{
			OAuthURL:     cfg.Calendar.OAuthURL,
			APIURL:       cfg.Calendar.APIURL,
			GrantType:    cfg.Calendar.GrantType,
			AccountID:    cfg.Calendar.AccountID,
			ClientID:     cfg.Calendar.ClientID,
			ClientSecret: cfg.Calendar.ClientSecret,
		}, nil)
	} else {
		log.Info().Msg("calendar not configured, scheduled sessions get no calendar event")
	}
	sched := schedule.NewService(schedule.Config{
		BaseURL:    cfg.Schedule.BaseURL,
		HostEmail:  cfg.Schedule.HostEmail,
		Summary:    cfg.Schedule.Summary,
		Location:   cfg.Schedule.Location,
		TimeZone:   loc,
		CalendarID: cfg.Calendar.CalendarID,
	}, store.NewSessionStore(db), events)

	var sg *signer.Signer
	if cfg.Signer.Secret != "" {
		sg, err = signer.New(signer.Config{
			Key:          cfg.Signer.Key,
			Secret:       cfg.Signer.Secret,
			Expiry:       cfg.Signer.Expiry,
			SessionKey:   cfg.Signer.SessionKey,
			UserIdentity: cfg.Signer.UserIdentity,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build signer")
		}
	} else {
		log.Warn().Msg("signer secret empty, /jwt answers 503")
	}

	reg := app.NewRegistry()
	limiter := router.NewRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Interval)
	broker := credential.NewBroker(credential.BrokerConfig{
		Endpoint: cfg.Credential.Endpoint,
		Timeout:  cfg.Credential.Timeout,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Registry:    reg,
		Credentials: broker,
		Signer:      sg,
		Schedule:    sched,
		Limiter:     limiter,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		ticker := time.NewTicker(cfg.RateLimit.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep()
			}
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("VideoLaunch server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Int("launchers", reg.Len()).Msg("Shutting down")
	reg.CancelAll()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
