package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/kyuen/internal/model"
)

// AggregateServiceInterface は地域別集計ハンドラーが必要とするサービスインターフェース。
type AggregateServiceInterface interface {
	// OutstandingByRegion は未充足数量を地域×物資ごとに合算して返す。
	OutstandingByRegion(ctx context.Context) ([]model.RegionNeed, error)
}

// AggregateHandler は地域別集計のHTTPハンドラー。
type AggregateHandler struct {
	service AggregateServiceInterface
}

// NewAggregateHandler はAggregateHandlerを生成する。
func NewAggregateHandler(service AggregateServiceInterface) *AggregateHandler {
	return &AggregateHandler{service: service}
}

// regionNeedResponse は地域×物資ごとの集計結果のAPIレスポンス。
type regionNeedResponse struct {
	Region              string `json:"region"`
	ItemName            string `json:"item_name"`
	Unit                string `json:"unit"`
	TotalQuantityNeeded int    `json:"total_quantity_needed"`
}

// ListRegionNeeds は地域別の未充足物資集計を取得する。
// GET /api/needs/regions
func (h *AggregateHandler) ListRegionNeeds(w http.ResponseWriter, r *http.Request) {
	needs, err := h.service.OutstandingByRegion(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]regionNeedResponse, len(needs))
	for i, need := range needs {
		results[i] = regionNeedResponse{
			Region:              need.Region,
			ItemName:            need.ItemName,
			Unit:                need.Unit,
			TotalQuantityNeeded: need.TotalQuantityNeeded,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}
