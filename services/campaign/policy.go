package campaign

import (
	"pointsplane/pkg/celengine"

	"go.uber.org/zap"
)

type BonusKind string

const (
	KindReferral BonusKind = "referral"
	KindLink     BonusKind = "link"
)

// ResolveBonus returns the bonus amount for kind. Campaign values take
// precedence; a nil or zero-valued campaign falls through to the caller's
// config-resolved fallback.
func ResolveBonus(c *Campaign, kind BonusKind, fallback int64) int64 {
	if c == nil {
		return fallback
	}

	switch kind {
	case KindReferral:
		if c.BaseReferral > 0 {
			return c.BaseReferral
		}
	case KindLink:
		if c.LinkBonus > 0 {
			return c.LinkBonus
		}
	}

	return fallback
}

// ResolveMilestone returns the extra bonus earned when newCount hits a
// milestone. Zero when no campaign is current or milestones are disabled
// (milestoneTarget == 0).
func ResolveMilestone(c *Campaign, newCount int) int64 {
	if c == nil || c.MilestoneTarget <= 0 {
		return 0
	}
	if newCount%c.MilestoneTarget != 0 {
		return 0
	}
	return c.MilestoneBonus
}

// Eligible evaluates the campaign's optional CEL eligibility expression
// against the given attributes. An empty expression, a compile failure or a
// runtime failure all count as eligible: a broken expression must never
// fail an award.
func Eligible(c *Campaign, attrs map[string]any) bool {
	if c == nil || c.EligibilityExpr == "" {
		return true
	}

	env, err := celengine.GetOrBuildEnv(attrs)
	if err != nil {
		zap.L().Error("failed to build eligibility env", zap.String("campaign", c.Name), zap.Error(err))
		return true
	}

	ok, err := celengine.Evaluate(env, c.EligibilityExpr, attrs)
	if err != nil {
		zap.L().Error("failed to evaluate eligibility expression",
			zap.String("campaign", c.Name),
			zap.String("expr", c.EligibilityExpr),
			zap.Error(err),
		)
		return true
	}

	return ok
}
