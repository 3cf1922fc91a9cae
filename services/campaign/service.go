package campaign

import (
	"context"
	"time"

	"pointsplane/pkg/db/option"
	"pointsplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	campaigns repository.Repository[Campaign]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		campaigns: repository.ProvideStore[Campaign](p.DB),
	}
}

type CreateParams struct {
	Name            string
	StartAt         *time.Time
	EndAt           *time.Time
	BaseReferral    int64
	MilestoneTarget int
	MilestoneBonus  int64
	LinkBonus       int64
	IsActive        bool
	EligibilityExpr string
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*Campaign, error) {
	c := &Campaign{
		ID:              s.node.Generate().String(),
		Name:            p.Name,
		StartAt:         p.StartAt,
		EndAt:           p.EndAt,
		BaseReferral:    p.BaseReferral,
		MilestoneTarget: p.MilestoneTarget,
		MilestoneBonus:  p.MilestoneBonus,
		LinkBonus:       p.LinkBonus,
		IsActive:        p.IsActive,
		EligibilityExpr: p.EligibilityExpr,
	}

	if err := s.campaigns.Create(ctx, c); err != nil {
		zap.L().Error("failed to create campaign", zap.Error(err))
		return nil, err
	}

	return c, nil
}

// FindActive resolves at most one current campaign. The most recently
// started active campaign wins; nil means defaults apply.
func (s *Service) FindActive(ctx context.Context) (*Campaign, error) {
	now := time.Now()

	var rows []*Campaign
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("(start_at IS NULL OR start_at <= ?)", now).
		Where("(end_at IS NULL OR end_at >= ?)", now).
		Order("start_at DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Service) List(ctx context.Context) ([]*Campaign, error) {
	return s.campaigns.Find(ctx, &Campaign{},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
}
