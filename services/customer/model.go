package customer

import (
	"time"

	"gorm.io/gorm"
)

// Customer carries the balance projection for one loyalty member. Points,
// expiry and referral count are derived state: only ledger-coupled
// operations may change them. Rows are soft-deleted, never removed.
type Customer struct {
	ID                string         `gorm:"column:id;primaryKey;type:char(26)"`
	CreatedAt         time.Time      `gorm:"column:created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"column:deleted_at;index"`
	Points            int64          `gorm:"column:points;not null;default:0"`
	ExpiryDate        *time.Time     `gorm:"column:expiry_date;index"`
	ReferrerID        *string        `gorm:"column:referrer_id;index"`
	ReferralCount     int            `gorm:"column:referral_count;not null;default:0"`
	ActiveCampaignTag *string        `gorm:"column:active_campaign_tag"`
	TelegramUserID    *string        `gorm:"column:telegram_user_id;index"`
}

func (Customer) TableName() string {
	return "customers"
}
