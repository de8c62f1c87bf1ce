package model

import "time"

const (
	NotificationTypeChatResponse = "chat_response"
)

type NotificationRelated struct {
	ChatID string `gorm:"type:varchar(36);index" json:"chatId,omitempty"`
}

type Notification struct {
	UUIDBase
	UserID      uint                `gorm:"index;not null" json:"userId"`
	Type        string              `gorm:"size:50;not null" json:"type"`
	Title       string              `gorm:"size:200" json:"title"`
	Message     string              `gorm:"type:text" json:"message"`
	RelatedData NotificationRelated `gorm:"embedded;embeddedPrefix:related_" json:"relatedData"`
	Read        bool                `gorm:"column:is_read;default:false;index" json:"read"`
	ReadAt      *time.Time          `json:"readAt,omitempty"`
}

func (Notification) TableName() string {
	return "notifications"
}
