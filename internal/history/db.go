// Package history keeps a local record of the files this client has sent
// and received.
package history

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

type Transfer struct {
	ID        uint      `gorm:"primaryKey"`
	Direction Direction `gorm:"index"`
	RoomCode  string
	Filename  string
	Sharer    string
	Size      int64
	MIMEType  string
	Checksum  string
	// Path is where a received file was written; empty for sent files.
	Path      string
	CreatedAt int64 `gorm:"index"`
}

func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}
