package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/kyuen/internal/model"
)

// ItemCatalogInterface は物資カタログハンドラーが必要とするインターフェース。
type ItemCatalogInterface interface {
	// List は物資カタログ全件を返す。
	List(ctx context.Context) ([]model.Item, error)
}

// ItemHandler は物資カタログのHTTPハンドラー。
type ItemHandler struct {
	catalog ItemCatalogInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(catalog ItemCatalogInterface) *ItemHandler {
	return &ItemHandler{catalog: catalog}
}

// itemResponse は物資カタログのAPIレスポンス。
type itemResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Unit     string `json:"unit"`
	Category string `json:"category"`
}

// ListItems は物資カタログの一覧を取得する。
// GET /api/items
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.List(r.Context())
	if err != nil {
		handleServiceError(w, model.NewStoreError(err))
		return
	}

	results := make([]itemResponse, len(items))
	for i, item := range items {
		results[i] = itemResponse{
			ID:       item.ID,
			Name:     item.Name,
			Unit:     item.Unit,
			Category: item.Category,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}
