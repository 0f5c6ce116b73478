package model

import "time"

// WidgetRecord binds a widget identifier to the owner and the stored configuration document.
// Retired records keep their identifier reserved but no longer resolve publicly.
type WidgetRecord struct {
	WidgetID       string    `gorm:"primaryKey;size:64"`
	OwnerID        string    `gorm:"not null;size:320;index"`
	ConfigDocument string    `gorm:"type:text;not null"`
	Retired        bool      `gorm:"not null;default:false;index"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}
