package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/threadline-backend/pkg/types"
)

// ShippingInfo is the single saved shipping profile of a user.
type ShippingInfo struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID             `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	ShippingInfo types.ShippingDetails `gorm:"column:shipping_info;type:jsonb;serializer:json;not null"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (ShippingInfo) TableName() string { return "shipping_info" }
