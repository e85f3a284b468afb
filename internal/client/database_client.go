package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"enquiry-service/internal/config"
	"enquiry-service/internal/models"
	"enquiry-service/internal/util"
)

type DatabaseClient struct {
	DB     *gorm.DB
	driver string
}

// NewDatabaseClient opens the enquiry database (postgres or sqlite) and
// migrates its schema
func NewDatabaseClient(cfg *config.Config, logger *zap.Logger) (*DatabaseClient, error) {
	dbConfig := cfg.Database

	level := gormlogger.Warn
	if cfg.IsDevelopment() && cfg.Logging.Level == "debug" {
		level = gormlogger.Info
	}

	c, err := OpenDatabase(dbConfig, logger, level)
	if err != nil {
		return nil, err
	}

	if err := c.Migrate(); err != nil {
		_ = c.Close()
		return nil, err
	}

	logger.Info("Database client initialized",
		zap.String("driver", dbConfig.Driver),
		zap.Int("max_open_conns", dbConfig.MaxOpenConns))

	return c, nil
}

// OpenDatabase opens a gorm connection without migrating
func OpenDatabase(dbConfig config.DatabaseConfig, logger *zap.Logger, level gormlogger.LogLevel) (*DatabaseClient, error) {
	var dialector gorm.Dialector
	switch dbConfig.Driver {
	case "postgres", "postgresql":
		dialector = postgres.Open(dbConfig.URL)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dbConfig.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dbConfig.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dbConfig.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if dbConfig.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
	}
	if dbConfig.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	return &DatabaseClient{DB: db, driver: dbConfig.Driver}, nil
}

func (c *DatabaseClient) Migrate() error {
	if err := c.DB.AutoMigrate(&models.Enquiry{}, &models.EnquiryNote{}); err != nil {
		return fmt.Errorf("failed to run auto-migration: %w", err)
	}
	return nil
}

func (c *DatabaseClient) HealthCheck(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", c.driver, err)
	}
	return nil
}

func (c *DatabaseClient) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		util.Error("failed to close database", zap.Error(err))
		return err
	}
	util.Info("Database connection closed", zap.String("driver", c.driver))
	return nil
}
