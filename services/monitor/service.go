package monitor

import (
	"context"
	"sync"
	"time"

	"pointsplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service polls the product catalog and emits events for the transitions it
// cares about. State observed at startup is the baseline, never an event: a
// product already in stock does not produce a RESTOCK, and existing reviews
// only raise the high-water mark.
type Service struct {
	db        *gorm.DB
	publisher Publisher

	mu         sync.Mutex
	products   map[string]productState
	lastReview map[string]int64
	seeded     bool
}

type productState struct {
	status   ProductStatus
	featured bool
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Publisher Publisher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		publisher:  p.Publisher,
		products:   make(map[string]productState),
		lastReview: make(map[string]int64),
	}
}

// Seed records the current catalog state without emitting anything.
func (s *Service) Seed(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seedLocked(ctx)
}

func (s *Service) seedLocked(ctx context.Context) error {
	products, maxReviews, err := s.snapshot(ctx)
	if err != nil {
		return err
	}

	s.products = make(map[string]productState, len(products))
	for _, p := range products {
		s.products[p.ID] = productState{status: p.Status, featured: p.Featured}
	}
	s.lastReview = maxReviews
	s.seeded = true

	zap.L().Info("monitor baseline seeded", zap.Int("products", len(products)))
	return nil
}

// Scan diffs the catalog against the last observed state and publishes one
// event per recognized transition. Unrecognized drift, such as a product
// going out of stock or losing its featured flag, is absorbed into the
// baseline silently so it cannot fire later as a stale transition.
func (s *Service) Scan(ctx context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seeded {
		return nil, s.seedLocked(ctx)
	}

	products, maxReviews, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var events []Event

	prevProducts := s.products

	next := make(map[string]productState, len(products))
	for _, p := range products {
		cur := productState{status: p.Status, featured: p.Featured}
		next[p.ID] = cur

		prev, known := s.products[p.ID]
		if !known {
			// New product joins the baseline without events.
			continue
		}
		if prev.status == StatusOutOfStock && cur.status == StatusInStock {
			events = append(events, Event{
				Type:       EventRestock,
				ProductID:  p.ID,
				Name:       p.Name,
				ObservedAt: now,
			})
		}
		if !prev.featured && cur.featured {
			events = append(events, Event{
				Type:       EventFeatured,
				ProductID:  p.ID,
				Name:       p.Name,
				ObservedAt: now,
			})
		}
	}
	s.products = next

	for productID, maxID := range maxReviews {
		high, known := s.lastReview[productID]
		if !known {
			// A known product with no prior reviews starts from zero; a
			// product first seen this cycle joins silently.
			if _, existed := prevProducts[productID]; existed {
				high, known = 0, true
			}
		}
		if known && maxID > high {
			reviews, err := s.reviewsAbove(ctx, productID, high)
			if err != nil {
				zap.L().Error("failed to load new reviews", zap.String("product_id", productID), zap.Error(err))
			} else {
				for _, r := range reviews {
					events = append(events, Event{
						Type:       EventNewReview,
						ProductID:  productID,
						ReviewID:   r.ID,
						Rating:     r.Rating,
						ObservedAt: now,
					})
				}
			}
		}
		s.lastReview[productID] = maxID
	}

	for _, ev := range events {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			zap.L().Error("failed to publish product event",
				zap.String("type", string(ev.Type)),
				zap.String("product_id", ev.ProductID),
				zap.Error(err),
			)
		}
	}

	return events, nil
}

func (s *Service) snapshot(ctx context.Context) ([]*Product, map[string]int64, error) {
	var products []*Product
	if err := s.db.WithContext(ctx).Find(&products).Error; err != nil {
		return nil, nil, err
	}

	type reviewMax struct {
		ProductID string
		MaxID     int64
	}
	var rows []reviewMax
	if err := s.db.WithContext(ctx).
		Model(&Review{}).
		Select("product_id, MAX(id) AS max_id").
		Group("product_id").
		Scan(&rows).Error; err != nil {
		return nil, nil, err
	}

	maxReviews := make(map[string]int64, len(rows))
	for _, r := range rows {
		maxReviews[r.ProductID] = r.MaxID
	}

	return products, maxReviews, nil
}

func (s *Service) reviewsAbove(ctx context.Context, productID string, highWater int64) ([]*Review, error) {
	var reviews []*Review
	err := s.db.WithContext(ctx).
		Where("product_id = ? AND id > ?", productID, highWater).
		Order("id ASC").
		Find(&reviews).Error
	return reviews, err
}

// RunLoop polls on the configured interval until the context is cancelled.
func RunLoop(lc fx.Lifecycle, svc *Service, cfg *config.Config) {
	interval := cfg.Monitor.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := svc.Seed(startCtx); err != nil {
				return err
			}
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if _, err := svc.Scan(ctx); err != nil {
							zap.L().Error("monitor scan failed", zap.Error(err))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
