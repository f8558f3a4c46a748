package database

import (
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/config"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/appointment"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain/notification"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func Connect(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.New(zapWriter{log.Named("gorm")}, gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		PrepareStmt:                              true,
		DisableForeignKeyConstraintWhenMigrating: false,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: false,
	}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// zapWriter routes gorm's slow query and error lines into zap.
type zapWriter struct {
	log *zap.Logger
}

func (w zapWriter) Printf(format string, args ...any) {
	w.log.Warn(fmt.Sprintf(format, args...))
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("running database migrations")
	start := time.Now()

	for _, schema := range []string{"clinical", "auth"} {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)).Error; err != nil {
			return fmt.Errorf("creating schema %s: %w", schema, err)
		}
	}

	models := []any{
		&domain.User{},
		&appointment.Appointment{},
		&appointment.Activity{},
		&notification.Notification{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}

	if err := createIndexes(db, log); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}

	log.Info("migrations completed", zap.Duration("duration", time.Since(start)))
	return nil
}

func createIndexes(db *gorm.DB, log *zap.Logger) error {
	indexes := []struct {
		name  string
		query string
	}{
		// Reminder scans: confirmed appointments by start time
		{
			name:  "idx_appointments_reminder_scan",
			query: `CREATE INDEX IF NOT EXISTS idx_appointments_reminder_scan ON clinical.appointments (scheduled_at) WHERE deleted_at IS NULL AND status = 'confirmed'`,
		},
		{
			name:  "idx_appointments_owner_schedule",
			query: `CREATE INDEX IF NOT EXISTS idx_appointments_owner_schedule ON clinical.appointments (user_id, scheduled_at) WHERE deleted_at IS NULL`,
		},
		{
			name:  "idx_activities_trail",
			query: `CREATE INDEX IF NOT EXISTS idx_activities_trail ON clinical.appointment_activities (appointment_id, created_at)`,
		},
		{
			name:  "idx_notifications_inbox",
			query: `CREATE INDEX IF NOT EXISTS idx_notifications_inbox ON clinical.notifications (user_id, created_at DESC) WHERE read_at IS NULL`,
		},
	}

	for _, idx := range indexes {
		if err := db.Exec(idx.query).Error; err != nil {
			return fmt.Errorf("%s: %w", idx.name, err)
		}
		log.Debug("index ensured", zap.String("index", idx.name))
	}

	return nil
}
