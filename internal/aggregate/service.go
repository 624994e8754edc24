// Package aggregate は未充足物資の地域別集計を提供する。
// 確認済み要請のラインアイテム残数を、逆ジオコーディングで解決した
// 地域ラベルと物資名でグルーピングして合算する。
package aggregate

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/kyuen/internal/geocode"
	"github.com/hitoshi/kyuen/internal/metrics"
	"github.com/hitoshi/kyuen/internal/model"
	"github.com/hitoshi/kyuen/internal/repository"
)

// Service は地域別集計のサービス層。
type Service struct {
	pinItemRepo repository.PinItemRepository
	resolver    geocode.RegionResolver
	cache       *geocode.RegionCache
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	pinItemRepo repository.PinItemRepository,
	resolver geocode.RegionResolver,
	cache *geocode.RegionCache,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		pinItemRepo: pinItemRepo,
		resolver:    resolver,
		cache:       cache,
		logger:      logger,
		metrics:     collector,
	}
}

// OutstandingByRegion は未充足数量を地域×物資ごとに合算して返す。
// 地域解決の失敗はUnknown Regionへのフォールバックで吸収し、
// 集計全体を中断させない。結果は地域名、物資名の昇順で安定している。
func (s *Service) OutstandingByRegion(ctx context.Context) ([]model.RegionNeed, error) {
	rows, err := s.pinItemRepo.ListOutstandingForAggregation(ctx)
	if err != nil {
		return nil, model.NewStoreError(err)
	}

	// 同一Pinの複数行で逆ジオコーディングを繰り返さないよう、
	// 呼び出し内でもPinごとの解決結果を持ち回す。
	regionByPin := make(map[string]string)

	type groupKey struct {
		region   string
		itemName string
	}
	totals := make(map[groupKey]*model.RegionNeed)

	for _, row := range rows {
		region, ok := regionByPin[row.PinID]
		if !ok {
			region = s.resolveRegion(ctx, row.PinID, row.Lat, row.Lng)
			regionByPin[row.PinID] = region
		}

		key := groupKey{region: region, itemName: row.ItemName}
		need, ok := totals[key]
		if !ok {
			need = &model.RegionNeed{
				Region:   region,
				ItemName: row.ItemName,
				Unit:     row.ItemUnit,
			}
			totals[key] = need
		}
		need.TotalQuantityNeeded += row.RemainingQty
	}

	results := make([]model.RegionNeed, 0, len(totals))
	for _, need := range totals {
		results = append(results, *need)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Region != results[j].Region {
			return results[i].Region < results[j].Region
		}
		return results[i].ItemName < results[j].ItemName
	})
	return results, nil
}

// resolveRegion はPinの地域ラベルをキャッシュ経由で解決する。
// 解決に失敗した場合はUnknown Regionを返す（失敗はキャッシュしない）。
func (s *Service) resolveRegion(ctx context.Context, pinID string, lat, lng float64) string {
	if region, ok := s.cache.Get(pinID); ok {
		s.metrics.RecordGeocodeCacheHit()
		return region
	}

	start := time.Now()
	region, err := s.resolver.ReverseGeocode(ctx, lat, lng)
	s.metrics.RecordGeocodeLatency(time.Since(start))
	if err != nil {
		s.metrics.RecordGeocodeFailure()
		s.logger.Warn("地域解決に失敗したためUnknown Regionに分類します",
			slog.String("pin_id", pinID),
			slog.String("error", err.Error()),
		)
	}
	if region == "" {
		region = geocode.UnknownRegion
	}

	s.cache.Set(pinID, region)
	return region
}
