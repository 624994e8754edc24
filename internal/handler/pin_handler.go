// Package handler はHTTP APIハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kyuen/internal/fulfillment"
	"github.com/hitoshi/kyuen/internal/middleware"
	"github.com/hitoshi/kyuen/internal/model"
	"github.com/hitoshi/kyuen/internal/pin"
	"github.com/hitoshi/kyuen/internal/repository"
)

// PinServiceInterface は救援要請ハンドラーが必要とするサービスインターフェース。
type PinServiceInterface interface {
	// CreatePin は救援要請を作成する。
	CreatePin(ctx context.Context, input pin.CreatePinInput) (*model.Pin, error)
	// Confirm は要請をトラッカー確認済みに遷移させる。
	Confirm(ctx context.Context, pinID, actorID, membershipID string) (*model.Pin, error)
	// AttachItems は要請に物資ラインアイテムを登録する。
	AttachItems(ctx context.Context, pinID string, lines []pin.AttachItemInput) ([]model.PinItem, error)
	// GetPin は要請をラインアイテム付きで返す。
	GetPin(ctx context.Context, pinID string) (*repository.PinWithItems, error)
	// ListPins は要請一覧をラインアイテム付きで返す。
	ListPins(ctx context.Context, status *model.PinStatus) ([]repository.PinWithItems, error)
}

// FulfillmentServiceInterface は受諾ハンドラーが必要とするサービスインターフェース。
type FulfillmentServiceInterface interface {
	// AcceptItems は受諾バッチを適用する。
	AcceptItems(ctx context.Context, pinID string, acceptances []fulfillment.Acceptance) (fulfillment.AcceptResult, error)
}

// PinHandler は救援要請のHTTPハンドラー。
type PinHandler struct {
	pinService         PinServiceInterface
	fulfillmentService FulfillmentServiceInterface
}

// NewPinHandler はPinHandlerを生成する。
func NewPinHandler(pinService PinServiceInterface, fulfillmentService FulfillmentServiceInterface) *PinHandler {
	return &PinHandler{
		pinService:         pinService,
		fulfillmentService: fulfillmentService,
	}
}

// createPinRequest は救援要請作成リクエストのボディ。
type createPinRequest struct {
	Kind        string  `json:"kind"`
	Phone       string  `json:"phone"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	ImageURL    *string `json:"image_url,omitempty"`
}

// pinItemResponse はラインアイテムのAPIレスポンス。
type pinItemResponse struct {
	ID           string `json:"id"`
	ItemID       string `json:"item_id"`
	ItemName     string `json:"item_name,omitempty"`
	ItemUnit     string `json:"item_unit,omitempty"`
	RequestedQty int    `json:"requested_qty"`
	RemainingQty int    `json:"remaining_qty"`
	AcceptedQty  int    `json:"accepted_qty"`
}

// pinResponse は救援要請のAPIレスポンス。
type pinResponse struct {
	ID            string            `json:"id"`
	Kind          string            `json:"kind"`
	Status        string            `json:"status"`
	DerivedStatus string            `json:"derived_status"`
	Phone         string            `json:"phone"`
	Description   string            `json:"description"`
	Lat           float64           `json:"lat"`
	Lng           float64           `json:"lng"`
	ImageURL      *string           `json:"image_url,omitempty"`
	ConfirmedAt   *time.Time        `json:"confirmed_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Items         []pinItemResponse `json:"items"`
}

// acceptRequest は受諾リクエストのボディ。
type acceptRequest struct {
	Acceptances []struct {
		PinItemID string `json:"pin_item_id"`
		Quantity  int    `json:"quantity"`
	} `json:"acceptances"`
}

// acceptResponse は受諾結果のAPIレスポンス。
type acceptResponse struct {
	Accepted  bool `json:"accepted"`
	Completed bool `json:"completed"`
}

// attachItemsRequest はラインアイテム登録リクエストのボディ。
type attachItemsRequest struct {
	Items []struct {
		ItemID       string `json:"item_id"`
		RequestedQty int    `json:"requested_qty"`
	} `json:"items"`
}

// confirmRequest は確認リクエストのボディ。
type confirmRequest struct {
	MembershipID string `json:"membership_id"`
}

func toPinResponse(row repository.PinWithItems) pinResponse {
	items := make([]pinItemResponse, len(row.Items))
	plain := make([]model.PinItem, len(row.Items))
	for i, item := range row.Items {
		items[i] = pinItemResponse{
			ID:           item.ID,
			ItemID:       item.ItemID,
			ItemName:     item.ItemName,
			ItemUnit:     item.ItemUnit,
			RequestedQty: item.RequestedQty,
			RemainingQty: item.RemainingQty,
			AcceptedQty:  item.AcceptedQty(),
		}
		plain[i] = item.PinItem
	}
	return pinResponse{
		ID:            row.ID,
		Kind:          string(row.Kind),
		Status:        string(row.Status),
		DerivedStatus: string(model.DerivePinStatus(plain)),
		Phone:         row.Phone,
		Description:   row.Description,
		Lat:           row.Lat,
		Lng:           row.Lng,
		ImageURL:      row.ImageURL,
		ConfirmedAt:   row.ConfirmedAt,
		CreatedAt:     row.CreatedAt,
		Items:         items,
	}
}

// CreatePin は救援要請を作成する。
// POST /api/pins
func (h *PinHandler) CreatePin(w http.ResponseWriter, r *http.Request) {
	var req createPinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	input := pin.CreatePinInput{
		Kind:        model.PinKind(req.Kind),
		Phone:       req.Phone,
		Description: req.Description,
		Lat:         req.Lat,
		Lng:         req.Lng,
		ImageURL:    req.ImageURL,
	}
	if actor, ok := middleware.ActorFromContext(r.Context()); ok {
		actorID := actor.ID
		input.ReporterID = &actorID
		input.ReporterRole = actor.Role
	}

	created, err := h.pinService.CreatePin(r.Context(), input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toPinResponse(repository.PinWithItems{Pin: *created}))
}

// ListPins は救援要請の一覧を取得する。
// GET /api/pins?status=pending|confirmed
func (h *PinHandler) ListPins(w http.ResponseWriter, r *http.Request) {
	var status *model.PinStatus
	if s := r.URL.Query().Get("status"); s != "" {
		ps := model.PinStatus(s)
		if ps != model.PinStatusPending && ps != model.PinStatusConfirmed {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("statusはpendingまたはconfirmedを指定してください"))
			return
		}
		status = &ps
	}

	rows, err := h.pinService.ListPins(r.Context(), status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]pinResponse, len(rows))
	for i, row := range rows {
		results[i] = toPinResponse(row)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// GetPin は救援要請を1件取得する。
// GET /api/pins/{id}
func (h *PinHandler) GetPin(w http.ResponseWriter, r *http.Request) {
	pinID := chi.URLParam(r, "id")

	row, err := h.pinService.GetPin(r.Context(), pinID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPinResponse(*row))
}

// Confirm は救援要請をトラッカー確認済みに遷移させる。
// POST /api/pins/{id}/confirm
func (h *PinHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	pinID := chi.URLParam(r, "id")

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}
	if req.MembershipID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("membership_idは必須です"))
		return
	}

	confirmed, err := h.pinService.Confirm(r.Context(), pinID, actor.ID, req.MembershipID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPinResponse(repository.PinWithItems{Pin: *confirmed}))
}

// AttachItems は救援要請に物資ラインアイテムを登録する。
// POST /api/pins/{id}/items
func (h *PinHandler) AttachItems(w http.ResponseWriter, r *http.Request) {
	pinID := chi.URLParam(r, "id")

	var req attachItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	lines := make([]pin.AttachItemInput, len(req.Items))
	for i, item := range req.Items {
		lines[i] = pin.AttachItemInput{
			ItemID:       item.ItemID,
			RequestedQty: item.RequestedQty,
		}
	}

	items, err := h.pinService.AttachItems(r.Context(), pinID, lines)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]pinItemResponse, len(items))
	for i, item := range items {
		results[i] = pinItemResponse{
			ID:           item.ID,
			ItemID:       item.ItemID,
			RequestedQty: item.RequestedQty,
			RemainingQty: item.RemainingQty,
			AcceptedQty:  item.AcceptedQty(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(results)
}

// Accept は物資の受諾バッチを適用する。
// POST /api/pins/{id}/accept
// 要請が既に完了削除されている場合は404を返すが、これは
// 「別の支援者が先に充足した」正常系としてUI側で扱われる。
func (h *PinHandler) Accept(w http.ResponseWriter, r *http.Request) {
	pinID := chi.URLParam(r, "id")

	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	acceptances := make([]fulfillment.Acceptance, len(req.Acceptances))
	for i, a := range req.Acceptances {
		acceptances[i] = fulfillment.Acceptance{
			PinItemID: a.PinItemID,
			Quantity:  a.Quantity,
		}
	}

	result, err := h.fulfillmentService.AcceptItems(r.Context(), pinID, acceptances)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodePartialFailure {
			// 受諾は反映済み。完了処理の失敗は自動回復されるため、
			// 部分成功としてレスポンスボディに結果を含めて返す。
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(acceptResponse{
				Accepted:  result.Accepted,
				Completed: result.Completed,
			})
			return
		}
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(acceptResponse{
		Accepted:  result.Accepted,
		Completed: result.Completed,
	})
}

// apiErrorResponse はAPIエラーレスポンスの統一フォーマット。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

func invalidRequestBodyError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeItemNotFound:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusForbidden
	case model.ErrCodePinNotFound, model.ErrCodePinItemNotFound:
		return http.StatusNotFound
	case model.ErrCodeStoreFailure, model.ErrCodePartialFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
