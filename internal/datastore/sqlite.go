package datastore

import (
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
)

const memoryDSN = ":memory:"

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open opens the SQLite database, creating its directory when needed, and
// migrates the schema.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.SQLite.Path
	if path == "" {
		return errors.Newf("sqlite path is empty").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	dsn := memoryDSN
	if path != memoryDSN {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				FileContext(path).
				Build()
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				FileContext(absPath).
				Context("operation", "create_db_directory").
				Build()
		}
		path = absPath
		// WAL journal, wait up to 5s on a locked database
		dsn = absPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), 200*time.Millisecond),
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_sqlite").
			FileContext(path).
			Build()
	}

	if dsn == memoryDSN {
		// every pooled connection would get its own empty in-memory database
		sqlDB, err := db.DB()
		if err != nil {
			return dbError(err, "open_sqlite").Build()
		}
		sqlDB.SetMaxOpenConns(1)
	}

	store.DB = db
	return performAutoMigration(db, "SQLite", path)
}
