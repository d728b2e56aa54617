package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PayMirror/app/models"
	"github.com/ManuelReschke/PayMirror/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config holds the connection settings read from DB_* variables.
type Config struct {
	Driver      string
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
	AutoMigrate bool
}

func ConfigFromEnv() Config {
	driver := strings.ToLower(env.GetEnv("DB_DRIVER", DriverMySQL))
	defaultPort := "3306"
	if driver == DriverPostgres {
		defaultPort = "5432"
	}
	return Config{
		Driver:      driver,
		Host:        env.GetEnv("DB_HOST", "127.0.0.1"),
		Port:        env.GetEnv("DB_PORT", defaultPort),
		User:        env.GetEnv("DB_USER", ""),
		Password:    env.GetEnv("DB_PASSWORD", ""),
		Name:        env.GetEnv("DB_NAME", ""),
		AutoMigrate: env.GetEnvBool("DB_AUTO_MIGRATE", true),
	}
}

// DSN renders the driver specific data source name.
func (c Config) DSN() string {
	if c.Driver == DriverPostgres {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			c.Host, c.User, c.Password, c.Name, c.Port)
	}
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=UTC"
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

func (c Config) dialector() (gorm.Dialector, error) {
	switch c.Driver {
	case DriverMySQL:
		return mysql.New(mysql.Config{
			DSN:                       c.DSN(), // data source name
			DefaultStringSize:         256,     // default size for string fields
			DontSupportRenameIndex:    true,    // drop & create when rename index, rename index not supported before MySQL 5.7, MariaDB
			DontSupportRenameColumn:   true,    // `change` when rename column, rename column not supported before MySQL 8, MariaDB
			SkipInitializeWithVersion: false,   // auto configure based on currently MySQL version
		}), nil
	case DriverPostgres:
		return postgres.New(postgres.Config{DSN: c.DSN()}), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", c.Driver)
	}
}

// Models lists every table owned by the service.
func Models() []interface{} {
	return []interface{}{
		&models.SubscriptionPlan{},
		&models.PaymentIntent{},
		&models.PaymentHistory{},
		&models.UserSubscription{},
		&models.PaymentMethod{},
	}
}

// SetupDatabase connects with retries and migrates the schema when enabled.
func SetupDatabase(cfg Config) (*gorm.DB, error) {
	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if env.IsDev() {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var db *gorm.DB
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(dialector, gormCfg)
		if err == nil {
			break
		}

		log.Warnf("[Database] Failed to connect to %s (try %d/%d): %v", cfg.Driver, i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(Models()...); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	log.Infof("[Database] Connected to %s database %s on %s:%s", cfg.Driver, cfg.Name, cfg.Host, cfg.Port)
	return db, nil
}
