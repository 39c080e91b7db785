package model

import "time"

type Order struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name          string    `gorm:"column:name;type:text;not null"`
	Description   *string   `gorm:"column:description;type:text"`
	EffectiveDate NullDate  `gorm:"column:effective_date"`
	Status        string    `gorm:"column:status;type:text;not null;index;check:status IN ('APPROVED','CANCELLED','DONE','DRAFT')"`
	Revision      int64     `gorm:"column:revision;not null;default:1"`
	CreatedDate   time.Time `gorm:"column:created_date;not null"`
	UpdatedDate   time.Time `gorm:"column:updated_date;not null"`
}

func (Order) TableName() string {
	return "orders"
}
