package model

import "time"

type DeadLetter struct {
	ID         string    `gorm:"column:id;type:text;primaryKey"`
	MessageKey string    `gorm:"column:message_key;type:text;not null"`
	Payload    []byte    `gorm:"column:payload;not null"`
	Reason     string    `gorm:"column:reason;type:text;not null;index"`
	Field      string    `gorm:"column:field;type:text;not null"`
	Detail     string    `gorm:"column:detail;type:text;not null"`
	Source     string    `gorm:"column:source;type:text;not null"`
	FailedAt   time.Time `gorm:"column:failed_at;not null;index"`
}

func (DeadLetter) TableName() string {
	return "dead_letters"
}
