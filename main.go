package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Necroforger/dgrouter/exrouter"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksg-dk/gatekeeper/access"
	"github.com/ksg-dk/gatekeeper/config"
	"github.com/ksg-dk/gatekeeper/database"
	"github.com/ksg-dk/gatekeeper/handlers"
	"github.com/ksg-dk/gatekeeper/platform"
	"github.com/ksg-dk/gatekeeper/reconciler"
	"github.com/ksg-dk/gatekeeper/seasons"
	"github.com/ksg-dk/gatekeeper/verification"
	"github.com/ksg-dk/gatekeeper/web"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	store, err := database.Open(cfg.DataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open identity database")
	}
	defer store.Close()

	configStore := seasons.NewStore(seasons.FileSource(cfg.ConfigDir))
	if err := configStore.Reload(); err != nil {
		log.Fatal().Err(err).Msg("failed to load season config")
	}
	if err := access.SeedIdentities(store, configStore.Snapshot()); err != nil {
		log.Fatal().Err(err).Msg("failed to seed identities")
	}

	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create discord session")
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	verifier := verification.NewManager(store, configStore)
	verifier.SessionTTL = cfg.SessionTTL

	client := platform.New(session)
	engine := &access.Engine{
		Config:      configStore,
		Store:       store,
		Verifier:    verifier,
		Observer:    client,
		Provisioner: client,
		Reconciler:  reconciler.New(client, cfg.GuildID),
		GuildID:     cfg.GuildID,
	}

	h := &handlers.Handlers{
		Engine:          engine,
		Config:          configStore,
		Store:           store,
		Verifier:        verifier,
		BaseURL:         cfg.BaseURL,
		OperatorChannel: cfg.OperatorChannel,
	}

	router := exrouter.New()
	h.Register(router)
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		router.FindAndExecute(s, cfg.CommandPrefix, s.State.User.ID, m.Message)
	})
	session.AddHandler(h.GuildMemberAdd)
	session.AddHandler(h.GuildMemberRemove)

	if err := session.Open(); err != nil {
		log.Fatal().Err(err).Msg("failed to open discord gateway")
	}
	defer session.Close()
	log.Info().Str("guild", cfg.GuildID).Msg("gateway connected")

	gin.SetMode(gin.ReleaseMode)
	srv := web.NewServer(web.Config{
		ListenAddr:   cfg.ListenAddr,
		BaseURL:      cfg.BaseURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		StateSecret:  cfg.StateSecret,
	}, engine).HTTPServer()

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("verification web server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("web server error")
		}
	}()

	// Housekeeping: drop stale sessions, and optionally re-reconcile
	// everyone to catch manual changes drifting from the config.
	go func() {
		sweep := time.NewTicker(15 * time.Minute)
		defer sweep.Stop()
		var resync <-chan time.Time
		if cfg.ResyncInterval > 0 {
			t := time.NewTicker(cfg.ResyncInterval)
			defer t.Stop()
			resync = t.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweep.C:
				if n := verifier.Sweep(); n > 0 {
					log.Debug().Int("dropped", n).Msg("swept expired verification sessions")
				}
			case <-resync:
				users, failed, err := engine.SyncAll(ctx)
				if err != nil {
					log.Warn().Err(err).Msg("periodic sync failed")
					continue
				}
				log.Info().Int("users", users).Int("failed", failed).Msg("periodic sync complete")
			}
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("web server forced to shutdown")
	}
}
