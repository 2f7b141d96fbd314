package main

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/oficio-pipeline/internal/queue"
	"github.com/sells-group/oficio-pipeline/internal/storage"
	"github.com/sells-group/oficio-pipeline/internal/track"
)

// pipelineEnv holds the initialized store, object storage, and stage queues
// shared by the ingest/worker/serve commands.
type pipelineEnv struct {
	Store     track.Store
	Objects   storage.ObjectStore
	Extract   queue.Queue
	Integrate queue.Queue

	queueDB *sql.DB
}

// Close releases resources held by the environment.
func (e *pipelineEnv) Close() {
	if e.queueDB != nil {
		_ = e.queueDB.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (track.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "oficio.db"
		}
		return track.NewSQLite(dsn)
	case "postgres":
		return track.NewPostgres(ctx, cfg.Store.DatabaseURL, &track.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initStorage(ctx context.Context) (storage.ObjectStore, error) {
	switch cfg.Storage.Driver {
	case "fs":
		return storage.NewFS(cfg.Storage.RootDir)
	case "s3":
		return storage.NewS3(ctx, cfg.Storage.Region, cfg.Storage.Bucket)
	default:
		return nil, eris.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// openQueueDB opens the SQL-queue database and reports its placeholder
// dialect. The queue shares the tracking database unless queue.database_url
// points elsewhere.
func openQueueDB() (*sql.DB, string, error) {
	url := cfg.Queue.DatabaseURL
	if url == "" {
		url = cfg.Store.DatabaseURL
	}
	driver, dialect := "sqlite", "sqlite"
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		driver, dialect = "pgx", "postgres"
	}
	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, "", eris.Wrap(err, "open queue database")
	}
	return db, dialect, nil
}

func initQueues(ctx context.Context, env *pipelineEnv) error {
	visibility := time.Duration(cfg.Queue.VisibilitySecs) * time.Second

	switch cfg.Queue.Driver {
	case "sql":
		db, dialect, err := openQueueDB()
		if err != nil {
			return err
		}
		env.queueDB = db
		if err := queue.Migrate(ctx, db); err != nil {
			return err
		}
		env.Extract, err = queue.NewSQL(db, dialect, queue.SQLQueueConfig{
			Name:          queue.ExtractQueue,
			Visibility:    visibility,
			MaxDeliveries: cfg.Queue.MaxDeliveries,
		})
		if err != nil {
			return err
		}
		env.Integrate, err = queue.NewSQL(db, dialect, queue.SQLQueueConfig{
			Name:          queue.IntegrateQueue,
			Visibility:    visibility,
			MaxDeliveries: cfg.Queue.MaxDeliveries,
		})
		return err
	case "sqs":
		var err error
		env.Extract, err = queue.NewSQS(ctx, cfg.Queue.Region, cfg.Queue.ExtractQueueURL, cfg.Queue.ExtractDLQURL)
		if err != nil {
			return err
		}
		env.Integrate, err = queue.NewSQS(ctx, cfg.Queue.Region, cfg.Queue.IntegrateQueueURL, cfg.Queue.IntegrateDLQURL)
		return err
	default:
		return eris.Errorf("unsupported queue driver: %s", cfg.Queue.Driver)
	}
}

// initEnv wires the full environment for a run mode. Callers should defer
// env.Close().
func initEnv(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	objects, err := initStorage(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	env := &pipelineEnv{Store: st, Objects: objects}
	if err := initQueues(ctx, env); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}
