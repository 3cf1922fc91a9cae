package settings

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"pointsplane/pkg/errutil"
	"pointsplane/pkg/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrSettingMissing marks a lookup for a key with no stored value. Callers
// are expected to handle it explicitly and supply their own fallback.
var ErrSettingMissing = errors.New("setting not configured")

// Provider caches the system_settings table in memory. The cache is built
// once at startup and only changes through an explicit Reload; nothing
// mutates it mid-request.
type Provider struct {
	store repository.Repository[Setting]

	mu     sync.RWMutex
	values map[string]string
}

func NewProvider(db *gorm.DB) (*Provider, error) {
	p := &Provider{
		store:  repository.ProvideStore[Setting](db),
		values: make(map[string]string),
	}

	if err := p.Reload(context.Background()); err != nil {
		return nil, err
	}

	return p, nil
}

// Reload replaces the cached values with the current table contents.
func (p *Provider) Reload(ctx context.Context) error {
	rows, err := p.store.Find(ctx, &Setting{})
	if err != nil {
		return err
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}

	p.mu.Lock()
	p.values = values
	p.mu.Unlock()

	zap.L().Info("system settings loaded", zap.Int("count", len(values)))
	return nil
}

func (p *Provider) String(key string) (string, error) {
	p.mu.RLock()
	v, ok := p.values[key]
	p.mu.RUnlock()

	if !ok {
		zap.L().Error("system setting not found", zap.String("key", key))
		return "", errutil.NotFound("system setting not found", ErrSettingMissing,
			errutil.WithDetails(errutil.Detail{Field: "key", Message: key}))
	}
	return v, nil
}

func (p *Provider) Int(key string) (int64, error) {
	v, err := p.String(key)
	if err != nil {
		return 0, err
	}

	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		zap.L().Error("system setting is not numeric", zap.String("key", key), zap.String("value", v))
		return 0, errutil.UnprocessableEntity("system setting is not numeric", err)
	}
	return n, nil
}

// IntOr resolves key, falling back to def when the key is absent or invalid.
// The missing lookup is still logged by String so gaps stay visible.
func (p *Provider) IntOr(key string, def int64) int64 {
	n, err := p.Int(key)
	if err != nil {
		return def
	}
	return n
}

func (p *Provider) StringOr(key, def string) string {
	v, err := p.String(key)
	if err != nil {
		return def
	}
	return v
}

// IntsOr parses a comma-separated list of integers, e.g. "7,3,1".
func (p *Provider) IntsOr(key string, def []int) []int {
	v, err := p.String(key)
	if err != nil {
		return def
	}

	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			zap.L().Error("system setting has a non-numeric element", zap.String("key", key), zap.String("value", v))
			return def
		}
		out = append(out, n)
	}

	if len(out) == 0 {
		return def
	}
	return out
}

// Location resolves the configured schedule timezone, defaulting to UTC.
func (p *Provider) Location() *time.Location {
	name, err := p.String(KeySystemTimezone)
	if err != nil {
		return time.UTC
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		zap.L().Error("invalid system timezone", zap.String("timezone", name), zap.Error(err))
		return time.UTC
	}
	return loc
}
