package ledger

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type TransactionType string

const (
	TypeReferralBonus TransactionType = "REFERRAL_BONUS"
	TypeLinkBonus     TransactionType = "LINK_BONUS"
	TypeCampaignBonus TransactionType = "CAMPAIGN_BONUS"
	TypeAdminAdjust   TransactionType = "ADMIN_ADJUST"
	TypeRedeemReward  TransactionType = "REDEEM_REWARD"
	TypeOther         TransactionType = "OTHER"
)

func (t TransactionType) String() string {
	switch t {
	case TypeReferralBonus, TypeLinkBonus, TypeCampaignBonus, TypeAdminAdjust, TypeRedeemReward, TypeOther:
		return string(t)
	default:
		return ""
	}
}

// PointTransaction is one append-only ledger row. Rows are never updated or
// deleted by the core.
//
// The composite unique index on (customer_id, type, related_id) is the
// at-most-once guard for bonus awards: a concurrent duplicate insert fails
// at commit time instead of silently double-crediting. Rows without a
// related id (admin adjustments, expiry) are exempt since NULLs never
// collide.
type PointTransaction struct {
	ID         string          `gorm:"column:id;primaryKey;type:char(26)"`
	CreatedAt  time.Time       `gorm:"column:created_at;index"`
	CustomerID string          `gorm:"column:customer_id;index;not null;uniqueIndex:idx_customer_type_related"`
	Amount     int64           `gorm:"column:amount;not null"`
	Type       TransactionType `gorm:"column:type;type:varchar(20);not null;uniqueIndex:idx_customer_type_related"`
	Code       string          `gorm:"column:code;index"`
	Detail     string          `gorm:"column:detail;type:text"`
	RelatedID  *string         `gorm:"column:related_id;uniqueIndex:idx_customer_type_related"`
	Metadata   datatypes.JSON  `gorm:"column:metadata"`
}

func (PointTransaction) TableName() string {
	return "point_transactions"
}

// GenerateTransactionCode returns a human-pasteable code like
// 20260310-3FA2C1 for support lookups.
func GenerateTransactionCode() (string, error) {
	datePart := time.Now().Format("20060102")

	r := make([]byte, 3) // 3 bytes = 6 hex chars
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	randomPart := strings.ToUpper(fmt.Sprintf("%x", r))

	return fmt.Sprintf("%s-%s", datePart, randomPart), nil
}
