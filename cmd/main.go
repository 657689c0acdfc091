package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"

	grpcServer "github.com/arenalab/authcore/internal/api/grpc/server"
	"github.com/arenalab/authcore/internal/config"
	"github.com/arenalab/authcore/internal/keys"
	keystore "github.com/arenalab/authcore/internal/keystore/minio"
	"github.com/arenalab/authcore/internal/logger"
	"github.com/arenalab/authcore/internal/model"
	"github.com/arenalab/authcore/internal/repository/postgres"
	"github.com/arenalab/authcore/internal/server"
	"github.com/arenalab/authcore/internal/service"
	"github.com/arenalab/authcore/internal/token"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.New(cfg.LogLevel)

	db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to initialize storage", "error", err)
	}
	defer db.Close()

	keyPair, err := loadSigningKey(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to prepare signing key", "error", err)
	}

	refreshTokenRepo := postgres.NewRefreshTokenRepository(db, cfg.Refresh.RotationGrace)
	refreshService := service.NewRefreshService(refreshTokenRepo, service.RefreshConfig{
		TTL:           cfg.Refresh.TTL,
		RotationGrace: cfg.Refresh.RotationGrace,
	}, logger.Named("refresh"))

	tokenService := service.NewTokenService(token.New(), refreshService, keyPair, service.TokenConfig{
		Issuer:    cfg.Token.Issuer,
		AccessTTL: cfg.Token.AccessTTL,
	}, logger.Named("token"))
	logger.Info("token service ready", "kid", tokenService.KeyID(), "issuer", cfg.Token.Issuer)

	sweeper := service.NewSweeper(refreshTokenRepo, service.SweeperConfig{
		Interval: cfg.Cleanup.Interval,
	}, logger.Named("cleanup"), prometheus.DefaultRegisterer)
	sweeper.Start(ctx)

	opsServer := grpcServer.New(fmt.Sprintf(":%s", cfg.GRPC.Port), logger)

	var sl model.SecurityLayer
	if cfg.GRPC.EnableHTTPS {
		sl = server.NewTLSListener(cfg.GRPC.CertFileName, cfg.GRPC.PrivateKeyFileName)
	} else {
		sl = server.NewPlainListener()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func(s model.Server) {
		defer wg.Done()
		logger.Info("Starting server on", "address", s.Address())
		err := s.Start(sl)
		if err != nil {
			logger.Error("failed to start server", "error", err)
		}
	}(opsServer)

	logAppVersion()

	<-ctx.Done()
	logger.Info("received interruption signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	sweeper.Stop()

	if err := opsServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err, "address", opsServer.Address())
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

// loadSigningKey resolves the process signing key pair. With the key store
// enabled the pair is loaded from the bucket, generated and saved on first
// boot. Otherwise an ephemeral pair lives for the process lifetime only.
func loadSigningKey(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*keys.KeyPair, error) {
	if !cfg.Keystore.Enabled {
		logger.Info("key store disabled, generating ephemeral signing key")
		return keys.Generate(cfg.Token.KeyBits)
	}

	minioClient, err := minio.New(cfg.Keystore.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Keystore.AccessKey, cfg.Keystore.SecretKey, ""),
		Secure: cfg.Keystore.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	store, err := keystore.NewKeyStore(ctx, minioClient, cfg.Keystore.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key store: %w", err)
	}

	kp, err := store.Load(ctx)
	if err == nil {
		logger.Info("loaded signing key from key store", "kid", kp.KeyID)
		return kp, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	kp, err = keys.Generate(cfg.Token.KeyBits)
	if err != nil {
		return nil, err
	}
	if err := store.Save(ctx, kp); err != nil {
		return nil, fmt.Errorf("failed to save signing key: %w", err)
	}
	logger.Info("generated and saved new signing key", "kid", kp.KeyID)
	return kp, nil
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`

	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}
