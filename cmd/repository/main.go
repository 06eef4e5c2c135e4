// Command repository runs the Bali Nebula document repository's HTTP
// surface: storage backend → validated wrapper → cache wrapper → document
// repository API → HTTP semantics engine, wired the way
// cmd/skopeo wired flags → types.SystemContext → command in the
// containers/image lineage this module descends from, substituting a TOML
// config file for CLI flags (the CLI itself is out of scope per spec.md §1).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	repobackend "github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/backend/filesystem"
	"github.com/bali-nebula/document-repository/internal/backend/objectstore"
	"github.com/bali-nebula/document-repository/internal/backend/remote"
	"github.com/bali-nebula/document-repository/internal/cache"
	"github.com/bali-nebula/document-repository/internal/config"
	"github.com/bali-nebula/document-repository/internal/httpapi"
	"github.com/bali-nebula/document-repository/internal/notary"
	"github.com/bali-nebula/document-repository/internal/reaper"
	"github.com/bali-nebula/document-repository/internal/repository"
	"github.com/bali-nebula/document-repository/internal/validated"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	rawBackend, err := buildBackend(cfg.Backend)
	if err != nil {
		logrus.WithError(err).Fatal("failed to construct storage backend")
	}

	n, err := notary.NewEd25519Notary()
	if err != nil {
		logrus.WithError(err).Fatal("failed to construct notary")
	}

	validatedBackend := validated.New(rawBackend, n)
	cachedBackend := cache.Wrap(validatedBackend, cfg.Cache.Capacity)
	repo := repository.New(cachedBackend, n)

	engine := httpapi.NewDefaultEngine(n, cachedBackend, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reap := reaper.New(cachedBackend, repo, "/bali/events/bag/v1",
		time.Duration(cfg.Bag.LeaseSeconds)*time.Second, 30*time.Second)
	go reap.Run(ctx)

	server := &http.Server{Addr: cfg.Listen, Handler: engine}

	go func() {
		logrus.WithField("addr", cfg.Listen).Info("repository: listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("repository: server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logrus.Info("repository: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("repository: graceful shutdown failed")
	}
	cancel()
}

func buildBackend(cfg config.BackendConfig) (repobackend.Backend, error) {
	switch cfg.Kind {
	case "filesystem", "":
		return filesystem.New(cfg.Root), nil
	case "objectstore":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, errors.Wrap(err, "load AWS config")
		}
		client := s3.NewFromConfig(awsCfg)
		buckets := make(map[repobackend.Location]string, len(cfg.Buckets))
		for k, v := range cfg.Buckets {
			buckets[repobackend.Location(k)] = v
		}
		return objectstore.New(client, buckets), nil
	case "remote":
		return remote.New(cfg.BaseURL), nil
	default:
		return nil, errors.Errorf("unknown backend kind %q", cfg.Kind)
	}
}
