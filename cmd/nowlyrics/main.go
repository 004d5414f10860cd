package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Kalmaegi/NowLyrics/internal/app"
	"github.com/Kalmaegi/NowLyrics/internal/config"
	"github.com/Kalmaegi/NowLyrics/internal/ipc"
	"github.com/Kalmaegi/NowLyrics/internal/player"
	"github.com/Kalmaegi/NowLyrics/internal/provider"
	"github.com/Kalmaegi/NowLyrics/internal/provider/lrclib"
	"github.com/Kalmaegi/NowLyrics/internal/provider/netease"
	"github.com/Kalmaegi/NowLyrics/internal/provider/qqmusic"
	"github.com/Kalmaegi/NowLyrics/internal/store"
	"github.com/Kalmaegi/NowLyrics/internal/titlefix"
	"github.com/Kalmaegi/NowLyrics/internal/translate"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := flag.String("config", "", "path to config.toml (default: XDG location)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	st := openStore(cfg)
	defer st.Close()

	manager := provider.NewManager(buildProviders(cfg))

	source, err := player.NewSource(cfg.App.PollInterval.Value())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to session bus")
	}

	engine := app.New(st, manager, source, app.Options{
		Normalizer:       buildNormalizer(cfg),
		Translator:       buildTranslator(cfg),
		LinePoll:         cfg.App.LinePoll.Value(),
		ProgressInterval: cfg.App.ProgressInterval.Value(),
	})

	server := ipc.NewServer(cfg.App.SocketPath, engine.Feed(), engine)
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start ipc server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go source.Run(ctx)
	engine.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")

	server.Close()
	engine.Stop()
	cancel()
}

func openStore(cfg *config.Config) store.Store {
	switch cfg.Store.Backend {
	case "redis":
		st, err := store.OpenRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to open redis store")
		}
		return st
	default:
		st, err := store.OpenFileStore(cfg.Store.CacheDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.Store.CacheDir).Msg("failed to open file store")
		}
		return st
	}
}

func buildProviders(cfg *config.Config) []provider.Provider {
	var providers []provider.Provider
	for _, name := range cfg.Providers.Enabled {
		switch name {
		case "lrclib":
			providers = append(providers, lrclib.New())
		case "netease":
			providers = append(providers, netease.New(cfg.Providers.NetEaseCookie))
		case "qqmusic":
			providers = append(providers, qqmusic.New(cfg.Providers.QQMusicCookie))
		}
	}
	if len(providers) == 0 {
		log.Fatal().Msg("no lyric providers enabled")
	}
	return providers
}

func buildNormalizer(cfg *config.Config) app.Normalizer {
	switch cfg.AI.Backend {
	case "gemini":
		g, err := titlefix.NewGemini(context.Background(), cfg.AI.APIKey, cfg.AI.Model)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create gemini client")
		}
		return titlefix.New(g)
	case "openai":
		return titlefix.New(titlefix.NewOpenAI(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL))
	default:
		return nil
	}
}

func buildTranslator(cfg *config.Config) app.Translator {
	if cfg.Translate.SecretID == "" || cfg.Translate.SecretKey == "" {
		return nil
	}
	tr, err := translate.NewTencent(cfg.Translate.SecretID, cfg.Translate.SecretKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create translator")
	}
	return tr
}
