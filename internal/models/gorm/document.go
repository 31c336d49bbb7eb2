package gorm

import (
	"time"

	"gorm.io/datatypes"
)

// Document is one JSON document of a named collection. Nested collections
// are flattened into the collection path, e.g. "chatRooms/<roomId>/messages".
type Document struct {
	Collection string         `gorm:"column:collection;primaryKey;type:varchar(255)"`
	ID         string         `gorm:"column:id;primaryKey;type:varchar(255)"`
	Data       datatypes.JSON `gorm:"column:data;not null"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Document) TableName() string {
	return "documents"
}
