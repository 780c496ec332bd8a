// Package database 管理 MySQL 与 Redis 连接。二者都是可选的：
// MySQL 只用于落库使用事件，Redis 只用于缓存 AI 服务状态。
package database

import (
	"fmt"
	"time"

	"pai-tutor-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 连接并迁移给定的模型。
func InitMySQL(dsn string, models ...interface{}) error {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}

	DB = db
	log.Info("MySQL database connected successfully")
	return nil
}
