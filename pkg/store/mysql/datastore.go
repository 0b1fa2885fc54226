package mysql

import (
	"context"
	"fmt"
	"time"

	"vpool/pkg/config"
	applogger "vpool/pkg/logger"
	"vpool/pkg/store/mysql/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

// gormWriter sends GORM warnings (slow queries, errors) to the application log
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	applogger.WarnCtx(context.Background(), "gorm: "+format, args...)
}

// Datastore owns the GORM connection for the stage and audit tables
type Datastore struct {
	db *gorm.DB
}

// NewDatastore opens MySQL with the configured pool limits
func NewDatastore(cfg config.MySQLConfig) (*Datastore, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.New(gormWriter{}, logger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		SkipDefaultTransaction: true,
		// Surface duplicate keys as gorm.ErrDuplicatedKey
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return &Datastore{db: db}, nil
}

// Migrate creates or updates the stages and worker_events tables
func (ds *Datastore) Migrate(ctx context.Context) error {
	if err := ds.db.WithContext(ctx).AutoMigrate(&model.Stage{}, &model.WorkerEvent{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB returns the connection bound to ctx
func (ds *Datastore) DB(ctx context.Context) *gorm.DB {
	return ds.db.WithContext(ctx)
}

// Close closes the database connection
func (ds *Datastore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
