// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/errors"
	"github.com/tphakala/emotion-go/internal/logger"
	"github.com/tphakala/emotion-go/internal/observability/metrics"
)

// Metrics is a type alias for metrics.DatastoreMetrics
type Metrics = metrics.DatastoreMetrics

const tableDetections = "emotion_detections"

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Save(detection *Detection) error
	Get(id string) (Detection, error)
	List(userName string, limit int) ([]Detection, error)
	Statistics(userName string) ([]EmotionCount, error)
	Count(userName string) (int64, error)
	Delete(id string) error
	Ping() error
	Close() error
}

// DataStore implements Interface on a GORM database. The driver specific
// stores embed it and only provide Open.
type DataStore struct {
	DB      *gorm.DB
	metrics *Metrics
}

// New creates the store selected in settings and attaches m, which may be nil.
// The returned store is not opened yet.
func New(settings *conf.Settings, m *Metrics) (Interface, error) {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{DataStore: DataStore{metrics: m}, Settings: settings}, nil
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{DataStore: DataStore{metrics: m}, Settings: settings}, nil
	default:
		return nil, errors.Newf("no database backend enabled").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// SetMetrics attaches datastore metrics after construction.
func (ds *DataStore) SetMetrics(m *Metrics) {
	ds.metrics = m
}

// Save inserts detection and sets its ID.
func (ds *DataStore) Save(detection *Detection) error {
	start := time.Now()
	if err := ds.ready(); err != nil {
		return err
	}

	err := ds.DB.Create(detection).Error
	ds.observe(metrics.OpDbInsert, start, err)
	if err != nil {
		return dbError(err, "save").
			Context("detection_method", detection.DetectionMethod).
			Build()
	}

	GetLogger().Debug("detection saved",
		logger.Uint64("id", uint64(detection.ID)),
		logger.String("emotion", detection.DetectedEmotion),
		logger.String("method", detection.DetectionMethod))
	return nil
}

// Get retrieves a detection by its ID.
func (ds *DataStore) Get(id string) (Detection, error) {
	start := time.Now()
	if err := ds.ready(); err != nil {
		return Detection{}, err
	}

	detectionID, err := parseID(id)
	if err != nil {
		return Detection{}, err
	}

	var detection Detection
	err = ds.DB.First(&detection, detectionID).Error
	ds.observe(metrics.OpDbQuery, start, ignoreNotFound(err))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Detection{}, notFound(id)
		}
		return Detection{}, dbError(err, "get").Context("id", id).Build()
	}
	return detection, nil
}

// List returns the most recent detections, newest first. An empty userName
// lists every user.
func (ds *DataStore) List(userName string, limit int) ([]Detection, error) {
	start := time.Now()
	if err := ds.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := ds.DB.Model(&Detection{})
	if userName != "" {
		query = query.Where("user_name = ?", userName)
	}

	var detections []Detection
	err := query.
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Find(&detections).Error
	ds.observe(metrics.OpDbQuery, start, err)
	if err != nil {
		return nil, dbError(err, "list").Context("user_filter", userName != "").Build()
	}

	if ds.metrics != nil {
		ds.metrics.RecordQueryResultSize(metrics.OpDbQuery, tableDetections, len(detections))
	}
	return detections, nil
}

// Statistics counts detections per label, most frequent first with ties
// broken by label. An empty userName counts every user.
func (ds *DataStore) Statistics(userName string) ([]EmotionCount, error) {
	start := time.Now()
	if err := ds.ready(); err != nil {
		return nil, err
	}

	query := ds.DB.Model(&Detection{}).
		Select("detected_emotion, COUNT(*) AS total")
	if userName != "" {
		query = query.Where("user_name = ?", userName)
	}

	var counts []EmotionCount
	err := query.
		Group("detected_emotion").
		Order("total DESC").
		Order("detected_emotion ASC").
		Scan(&counts).Error
	ds.observe(metrics.OpDbStatistics, start, err)
	if err != nil {
		return nil, dbError(err, "statistics").Context("user_filter", userName != "").Build()
	}
	return counts, nil
}

// Count returns the number of detections for userName, or all when empty.
func (ds *DataStore) Count(userName string) (int64, error) {
	start := time.Now()
	if err := ds.ready(); err != nil {
		return 0, err
	}

	query := ds.DB.Model(&Detection{})
	if userName != "" {
		query = query.Where("user_name = ?", userName)
	}

	var total int64
	err := query.Count(&total).Error
	ds.observe(metrics.OpDbCount, start, err)
	if err != nil {
		return 0, dbError(err, "count").Context("user_filter", userName != "").Build()
	}

	if userName == "" && ds.metrics != nil {
		ds.metrics.UpdateTableRowCount(tableDetections, total)
	}
	return total, nil
}

// Delete removes a detection by ID.
func (ds *DataStore) Delete(id string) error {
	start := time.Now()
	if err := ds.ready(); err != nil {
		return err
	}

	detectionID, err := parseID(id)
	if err != nil {
		return err
	}

	result := ds.DB.Delete(&Detection{}, detectionID)
	ds.observe(metrics.OpDbDelete, start, result.Error)
	if result.Error != nil {
		return dbError(result.Error, "delete").Context("id", id).Build()
	}
	if result.RowsAffected == 0 {
		return notFound(id)
	}

	GetLogger().Info("detection deleted", logger.String("id", id))
	return nil
}

// Ping checks the database connection.
func (ds *DataStore) Ping() error {
	start := time.Now()
	if err := ds.ready(); err != nil {
		return err
	}
	sqlDB, err := ds.DB.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	ds.observe(metrics.OpDbPing, start, err)
	if err != nil {
		return dbError(err, "ping").Build()
	}
	return nil
}

// Close closes the underlying connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close").Build()
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close").Build()
	}
	ds.DB = nil
	return nil
}

// performAutoMigration creates the detections table and its indexes.
func performAutoMigration(db *gorm.DB, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Detection{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Context("db_type", dbType).
			Build()
	}

	GetLogger().Info("database initialized",
		logger.String("db_type", dbType),
		logger.String("connection", connectionInfo))
	return nil
}

func (ds *DataStore) ready() error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

func (ds *DataStore) observe(operation string, start time.Time, err error) {
	if ds.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		ds.metrics.RecordDbOperationError(operation, tableDetections, fmt.Sprintf("%T", err))
	}
	ds.metrics.RecordDbOperation(operation, tableDetections, status)
	ds.metrics.RecordDbOperationDuration(operation, tableDetections, time.Since(start).Seconds())
}

func parseID(id string) (uint64, error) {
	detectionID, err := strconv.ParseUint(id, 10, 64)
	if err != nil || detectionID == 0 {
		return 0, errors.Newf("invalid detection id %q", id).
			Component("datastore").
			Category(errors.CategoryValidation).
			Context("id", id).
			Build()
	}
	return detectionID, nil
}

func notFound(id string) error {
	return errors.Newf("detection %s not found", id).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("id", id).
		Build()
}

func dbError(err error, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
