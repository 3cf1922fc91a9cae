package campaign

import (
	"time"

	"gorm.io/datatypes"
)

// Campaign is a time-boxed override of the default bonus amounts and
// milestone rules. Campaigns are created and activated by administrators;
// the bonus engine only reads them.
type Campaign struct {
	ID              string         `gorm:"column:id;primaryKey;type:char(26)"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	Name            string         `gorm:"column:name;type:varchar(255);uniqueIndex;not null"`
	StartAt         *time.Time     `gorm:"column:start_at"`
	EndAt           *time.Time     `gorm:"column:end_at"`
	BaseReferral    int64          `gorm:"column:base_referral;not null;default:0"`
	MilestoneTarget int            `gorm:"column:milestone_target;not null;default:0"`
	MilestoneBonus  int64          `gorm:"column:milestone_bonus;not null;default:0"`
	LinkBonus       int64          `gorm:"column:link_bonus;not null;default:0"`
	IsActive        bool           `gorm:"column:is_active;index;not null;default:false"`
	EligibilityExpr string         `gorm:"column:eligibility_expr;type:text"`
	Metadata        datatypes.JSON `gorm:"column:metadata"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

// IsCurrent checks whether the campaign applies at the given instant.
func (c *Campaign) IsCurrent(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.StartAt != nil && now.Before(*c.StartAt) {
		return false
	}
	if c.EndAt != nil && now.After(*c.EndAt) {
		return false
	}
	return true
}
