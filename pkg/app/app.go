// Package app wires the configured transport and data sources into a Dispatcher.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/guido-cesarano/librarytasks/pkg/config"
	"github.com/guido-cesarano/librarytasks/pkg/dispatcher"
	"github.com/guido-cesarano/librarytasks/pkg/logger"
	"github.com/guido-cesarano/librarytasks/pkg/queue"
	"github.com/guido-cesarano/librarytasks/pkg/repository"
	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
)

// App holds the long-lived dependencies of a producer process.
type App struct {
	Config     *config.Config
	Dispatcher *dispatcher.Dispatcher
	// Queue is the Redis client. It is nil when tasks are published to NATS.
	Queue *queue.Client

	db *sql.DB
	nc *nats.Conn
}

// New connects to the database and the configured transport.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}

	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	db, err := repository.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, db: db}

	var submitter dispatcher.Submitter
	switch cfg.Transport {
	case config.TransportNATS:
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("librarytasks"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		a.nc = nc
		submitter = queue.NewNATSPublisher(nc, cfg.NATS.Subject)
	default:
		a.Queue = NewQueueClient(cfg)
		if err := a.Queue.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		submitter = a.Queue
	}

	a.Dispatcher = dispatcher.New(
		repository.NewLibraryRepository(db),
		repository.NewBookRepository(db),
		submitter,
	)
	return a, nil
}

// NewQueueClient creates the Redis queue client described by cfg.
func NewQueueClient(cfg *config.Config) *queue.Client {
	return queue.NewClient(queue.Options{
		Addr:     cfg.Redis.Addr,
		Queue:    cfg.Redis.Queue,
		DedupTTL: cfg.Redis.DedupTTL,
	})
}

// Close releases every connection held by the App.
func (a *App) Close() error {
	var err error
	if a.nc != nil {
		err = multierr.Append(err, a.nc.Drain())
	}
	if a.Queue != nil {
		err = multierr.Append(err, a.Queue.Close())
	}
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	return err
}
