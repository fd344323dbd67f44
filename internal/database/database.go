package database

import (
	"daringbooks/config"
	"daringbooks/internal/domain"
	"daringbooks/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// AutoMigrate runs Gorm auto-migration for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Book{},
		&models.PurchaseRecord{},
		&models.AdminUser{},
	)
}

// SeedAdmin creates the initial admin account when none exists. A missing
// ADMIN_EMAIL/ADMIN_PASSWORD leaves the table empty, which locks the admin
// surface until seeded manually.
func SeedAdmin(db *gorm.DB, cfg *config.AdminConfig) {
	if cfg.Email == "" || cfg.Password == "" {
		return
	}
	var count int64
	db.Model(&models.AdminUser{}).Count(&count)
	if count > 0 {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		log.WithError(err).Error("seed admin: hash password")
		return
	}
	admin := &models.AdminUser{
		Email:        cfg.Email,
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
	}
	if err := db.Create(admin).Error; err != nil {
		log.WithError(err).Error("seed admin: create")
		return
	}
	log.WithField("email", cfg.Email).Info("seeded admin account")
}
