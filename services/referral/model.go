package referral

import "time"

type Status string

const (
	StatusPendingPurchase Status = "PENDING_PURCHASE"
	StatusCompleted       Status = "COMPLETED"
)

// Referral links a referee to their referrer. One record per referee; the
// status moves PENDING_PURCHASE -> COMPLETED exactly once, on the first
// qualifying purchase.
type Referral struct {
	ID             string     `gorm:"column:id;primaryKey;type:char(26)"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
	ReferrerID     string     `gorm:"column:referrer_id;index;not null"`
	RefereeID      string     `gorm:"column:referee_id;uniqueIndex;not null"`
	Status         Status     `gorm:"column:status;type:varchar(20);not null;default:'PENDING_PURCHASE'"`
	PurchaseAmount int64      `gorm:"column:purchase_amount;not null;default:0"`
	BonusAwarded   int64      `gorm:"column:bonus_awarded;not null;default:0"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
}

func (Referral) TableName() string {
	return "referrals"
}
