package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/catalog"
	"github.com/satindergrewal/deckd/internal/config"
	"github.com/satindergrewal/deckd/internal/deck"
	"github.com/satindergrewal/deckd/internal/logger"
	"github.com/satindergrewal/deckd/internal/server"
	"github.com/satindergrewal/deckd/internal/session"
	"github.com/satindergrewal/deckd/internal/sink"
	"github.com/satindergrewal/deckd/internal/source"
	"github.com/satindergrewal/deckd/internal/stream"
	"github.com/satindergrewal/deckd/internal/telemetry"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the decks behind the HTTP control surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log
	log.Info("deckd starting",
		zap.Strings("decks", cfg.Decks),
		zap.String("output", cfg.Output),
		zap.Int("port", cfg.Port),
	)

	shutdownTracing, err := telemetry.Setup(ctx, "deckd", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	dec, err := a.decoder()
	if err != nil {
		return err
	}

	var (
		out deck.Sink
		mon server.Monitor
	)
	switch cfg.Output {
	case config.OutputMonitor:
		m := stream.NewMonitor(stream.MonitorOptions{
			FFmpegPath:  cfg.FFmpegPath,
			MP3Bitrate:  cfg.MP3Bitrate,
			OpusBitrate: cfg.OpusBitrate,
			Logger:      log.Named("monitor"),
		})
		defer m.Close()
		out, mon = m, m
	case config.OutputDevice:
		dev, err := sink.Open(cfg.DeviceBuffer, log.Named("device"))
		if err != nil {
			return err
		}
		defer dev.Close()
		out = dev
	}

	var cat server.Catalog
	if cfg.CatalogURL != "" {
		c := catalog.NewClient(cfg.CatalogURL, cfg.CatalogAPIKey, log.Named("catalog"))
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if !c.Available(checkCtx) {
			log.Warn("catalog not reachable, track ids will fail until it is", zap.String("url", cfg.CatalogURL))
		}
		cancel()
		cat = c
	}

	var reg *server.Registry
	opts := []deck.Option{deck.WithLogger(log)}
	if out != nil {
		opts = append(opts, deck.WithSink(out))
	}

	var (
		store *session.Store
		rec   *session.Recorder
	)
	if cfg.Redis.Enabled() {
		rdb, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		store = session.NewStore(rdb, cfg.Redis.TTL, log.Named("session"))
		rec = session.NewRecorder(store, func(label string) (deck.Status, bool) {
			return reg.Status(label)
		})
		opts = append(opts, deck.WithObserver(rec.Observe))
	}

	reg = server.NewRegistry(func(label string, extra ...deck.Option) (*deck.Deck, error) {
		return deck.New(label, dec, append(append([]deck.Option{}, opts...), extra...)...)
	})
	defer reg.Close()

	for _, label := range cfg.Decks {
		d, err := reg.Create(label)
		if err != nil {
			return err
		}
		if store != nil {
			go a.restore(ctx, store, d)
		}
	}

	var stopRecorder func()
	if rec != nil {
		recCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			rec.Run(recCtx)
			close(done)
		}()
		stopRecorder = func() {
			cancel()
			<-done
		}
	}

	srv := server.New(server.Options{
		Registry:    reg,
		Monitor:     mon,
		Catalog:     cat,
		Sessions:    sessionsOrNil(store),
		LoadTimeout: cfg.LoadTimeout,
		Logger:      log.Named("http"),
	})
	err = srv.Run(ctx, fmt.Sprintf(":%d", cfg.Port))
	if stopRecorder != nil {
		stopRecorder()
	}
	return err
}

// sessionsOrNil keeps a nil store from becoming a non-nil interface.
func sessionsOrNil(s *session.Store) server.Sessions {
	if s == nil {
		return nil
	}
	return s
}

func (a *app) restore(ctx context.Context, store *session.Store, d *deck.Deck) {
	snap, err := store.Load(ctx, d.Label())
	if errors.Is(err, session.ErrNoSession) {
		return
	}
	if err != nil {
		a.log.Warn("read session", logger.Deck(d.Label()), zap.Error(err))
		return
	}
	rctx, cancel := context.WithTimeout(ctx, a.cfg.LoadTimeout)
	defer cancel()
	if err := session.Restore(rctx, d, snap); err != nil {
		a.log.Warn("restore session", logger.Deck(d.Label()), zap.String("ref", snap.Ref), zap.Error(err))
		return
	}
	a.log.Info("session restored",
		logger.Deck(d.Label()),
		zap.String("ref", snap.Ref),
		zap.Int("cues", len(snap.Cues)),
	)
}

func (a *app) decoder() (*source.Decoder, error) {
	var mc *minio.Client
	if a.cfg.Minio.Enabled() {
		var err error
		mc, err = newMinio(a.cfg.Minio)
		if err != nil {
			return nil, err
		}
	}
	return source.New(source.Options{
		FFmpegPath: a.cfg.FFmpegPath,
		Minio:      mc,
		Logger:     a.log.Named("source"),
	}), nil
}

func newMinio(cfg config.MinioConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}
