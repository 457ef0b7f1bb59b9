package datastore

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// dsn builds the go-sql-driver DSN from settings
func (store *MySQLStore) dsn() string {
	cfg := store.Settings.Output.MySQL
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
}

// Open connects to MySQL and migrates the schema.
func (store *MySQLStore) Open() error {
	cfg := store.Settings.Output.MySQL

	db, err := gorm.Open(mysql.Open(store.dsn()), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), 500*time.Millisecond),
	})
	if err != nil {
		GetLogger().Error("failed to open MySQL database",
			logger.String("host", cfg.Host),
			logger.String("port", cfg.Port),
			logger.String("database", cfg.Database),
			logger.Error(err))
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_mysql").
			Context("host", cfg.Host).
			Context("database", cfg.Database).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "open_mysql").Build()
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	store.DB = db
	// never log the password
	return performAutoMigration(db, "MySQL", fmt.Sprintf("%s:%s/%s", cfg.Host, cfg.Port, cfg.Database))
}
