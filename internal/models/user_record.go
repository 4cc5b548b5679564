package models

import "time"

// UserRecord stores one chat's encoded UserData in a SQL table.
type UserRecord struct {
	ChatID    string `gorm:"primaryKey;size:64"`
	Data      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}
