// Package stock is the read path behind /proxy: access control, cache, and the
// two-step inventory lookup.
package stock

import (
	"context"
	"strings"

	"github.com/quipper/poc/stockproxy/pkg/common/apperr"
	"github.com/quipper/poc/stockproxy/pkg/common/levelcache"
	"github.com/quipper/poc/stockproxy/pkg/common/logger"
	"github.com/quipper/poc/stockproxy/pkg/common/metrics"
	"github.com/quipper/poc/stockproxy/pkg/platform"
	credRepo "github.com/quipper/poc/stockproxy/pkg/repositories/credential"
	"golang.org/x/sync/singleflight"
)

// Resolver looks up inventory levels on the platform.
type Resolver interface {
	ResolveLevels(ctx context.Context, shop, token, variantID string) ([]platform.InventoryLevel, error)
}

// Service serves inventory levels for the single configured store.
type Service struct {
	shop     string
	creds    credRepo.Repository
	cache    levelcache.Cache
	resolver Resolver
	group    singleflight.Group
}

func NewService(shop string, creds credRepo.Repository, cache levelcache.Cache, resolver Resolver) *Service {
	return &Service{shop: shop, creds: creds, cache: cache, resolver: resolver}
}

// Shop returns the store this service answers for.
func (s *Service) Shop() string { return s.shop }

// Levels returns the levels of variantID for requestShop. The shop check runs
// before any cache or network access.
func (s *Service) Levels(ctx context.Context, requestShop, variantID string) ([]platform.InventoryLevel, error) {
	if requestShop != s.shop {
		return nil, apperr.Forbidden("Forbidden")
	}
	if strings.TrimSpace(variantID) == "" {
		return nil, apperr.BadRequest("Missing variant_id")
	}
	if levels, ok := s.cache.Get(ctx, variantID); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return levels, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	// Concurrent misses for one variant share a single upstream lookup. It is
	// detached from the first caller's cancellation so that caller leaving does
	// not fail the others; the client timeout still bounds it.
	v, err, shared := s.group.Do(variantID, func() (interface{}, error) {
		return s.fetch(context.WithoutCancel(ctx), variantID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debug("stock: shared lookup for variant %s", variantID)
	}
	return v.([]platform.InventoryLevel), nil
}

func (s *Service) fetch(ctx context.Context, variantID string) ([]platform.InventoryLevel, error) {
	cred, ok, err := s.creds.Active(ctx)
	if err != nil {
		return nil, apperr.Internal("load credential", err)
	}
	if !ok {
		return nil, apperr.Unconfigured("admin access token not configured; install the app first")
	}
	levels, err := s.resolver.ResolveLevels(ctx, s.shop, cred.AccessToken, variantID)
	if err != nil {
		return nil, apperr.Upstream("inventory lookup failed", err)
	}
	if err := s.cache.Put(ctx, variantID, levels); err != nil {
		logger.Warn("stock: cache put %s: %v", variantID, err)
	}
	return levels, nil
}
