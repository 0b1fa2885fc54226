package mysql

import (
	"context"

	"vpool/pkg/config"
)

// Repository the MySQL-backed stores: stage records and the worker event audit
type Repository struct {
	ds *Datastore

	Stage       *StageRepository
	WorkerEvent *WorkerEventRepository
}

// NewRepository connects to MySQL and migrates the schema unless skip_migrate is set
func NewRepository(ctx context.Context, cfg config.MySQLConfig) (*Repository, error) {
	ds, err := NewDatastore(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.SkipMigrate {
		if err := ds.Migrate(ctx); err != nil {
			_ = ds.Close()
			return nil, err
		}
	}

	return &Repository{
		ds:          ds,
		Stage:       NewStageRepository(ds),
		WorkerEvent: NewWorkerEventRepository(ds),
	}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
