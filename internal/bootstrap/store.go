package bootstrap

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"

	"github.com/intelliexo/intelliexo-backend/config"
	"github.com/intelliexo/intelliexo-backend/internal/projects/repository"
)

// Store is the selected snapshot store plus what it takes to shut it down and
// to report readiness.
type Store struct {
	repository.SnapshotStore
	Backend string
	Ping    func(ctx context.Context) error
	Close   func() error
}

// OpenStore builds the snapshot store chosen by STORE_BACKEND. app is only
// used by the firestore backend and may be nil otherwise.
func OpenStore(ctx context.Context, cfg *config.Config, app *firebase.App) (*Store, error) {
	switch cfg.Session.StoreBackend {
	case config.StoreFirestore:
		if app == nil {
			return nil, fmt.Errorf("firestore store needs a firebase app")
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		return &Store{
			SnapshotStore: repository.NewFirestoreStore(client),
			Backend:       config.StoreFirestore,
			Ping:          func(context.Context) error { return nil },
			Close:         client.Close,
		}, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return &Store{
			SnapshotStore: repository.NewRedisStore(client),
			Backend:       config.StoreRedis,
			Ping:          func(ctx context.Context) error { return client.Ping(ctx).Err() },
			Close:         client.Close,
		}, nil

	case config.StorePostgres:
		dsn := cfg.Database.DSN()
		db, err := OpenDB(ctx, DBOptions{DSN: dsn})
		if err != nil {
			return nil, err
		}
		store := repository.NewPostgresStore(db, dsn)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &Store{
			SnapshotStore: store,
			Backend:       config.StorePostgres,
			Ping:          db.PingContext,
			Close:         db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Session.StoreBackend)
	}
}
