package monitor

import "time"

type ProductStatus string

const (
	StatusInStock    ProductStatus = "IN_STOCK"
	StatusOutOfStock ProductStatus = "OUT_OF_STOCK"
)

type Product struct {
	ID           string        `gorm:"column:id;type:char(26);primaryKey"`
	Name         string        `gorm:"column:name"`
	Status       ProductStatus `gorm:"column:status;type:varchar(16)"`
	Featured     bool          `gorm:"column:featured"`
	LastModified time.Time     `gorm:"column:last_modified;autoUpdateTime"`
}

func (Product) TableName() string {
	return "products"
}

type Review struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID string    `gorm:"column:product_id;type:char(26);index"`
	Rating    int       `gorm:"column:rating"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Review) TableName() string {
	return "product_reviews"
}

type EventType string

const (
	EventRestock   EventType = "RESTOCK"
	EventFeatured  EventType = "FEATURED"
	EventNewReview EventType = "NEW_REVIEW"
)

type Event struct {
	Type       EventType `json:"type"`
	ProductID  string    `json:"product_id"`
	Name       string    `json:"name,omitempty"`
	ReviewID   int64     `json:"review_id,omitempty"`
	Rating     int       `json:"rating,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}
