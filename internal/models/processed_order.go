package models

import "time"

// ProcessedOrder marks an order id as fully handled by the allocation engine.
type ProcessedOrder struct {
	OrderID     string    `gorm:"primaryKey" json:"order_id"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
}
