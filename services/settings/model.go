package settings

import "time"

// Config keys consumed by the loyalty core. Values live in the
// system_settings table and are owned by administrative tooling; the core
// only reads them.
const (
	KeyStandardReferralPoints    = "standardReferralPoints"
	KeyStandardLinkBonus         = "standardLinkBonus"
	KeyExpiryDaysReferralBonus   = "expiryDaysReferralBonus"
	KeyExpiryDaysLimitMax        = "expiryDaysLimitMax"
	KeyExpiryDaysNewMember       = "expiryDaysNewMember"
	KeyExpiryCutoffTime          = "expiryCutoffTime"
	KeyReminderNotificationTime  = "reminderNotificationTime"
	KeySystemTimezone            = "systemTimezone"
	KeyMinPurchaseForReferral    = "minPurchaseForReferral"
	KeyReminderDaysBefore        = "reminderDaysBefore"
)

type Setting struct {
	ID        string    `gorm:"column:id;primaryKey;type:char(26)"`
	Key       string    `gorm:"column:key;uniqueIndex;not null"`
	Value     string    `gorm:"column:value;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Setting) TableName() string {
	return "system_settings"
}
