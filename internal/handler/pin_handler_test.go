package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/kyuen/internal/fulfillment"
	"github.com/hitoshi/kyuen/internal/middleware"
	"github.com/hitoshi/kyuen/internal/model"
	"github.com/hitoshi/kyuen/internal/pin"
	"github.com/hitoshi/kyuen/internal/repository"
)

// mockPinService はPinServiceInterfaceのモック。
type mockPinService struct {
	createPinFunc   func(ctx context.Context, input pin.CreatePinInput) (*model.Pin, error)
	confirmFunc     func(ctx context.Context, pinID, actorID, membershipID string) (*model.Pin, error)
	attachItemsFunc func(ctx context.Context, pinID string, lines []pin.AttachItemInput) ([]model.PinItem, error)
	getPinFunc      func(ctx context.Context, pinID string) (*repository.PinWithItems, error)
	listPinsFunc    func(ctx context.Context, status *model.PinStatus) ([]repository.PinWithItems, error)
}

func (m *mockPinService) CreatePin(ctx context.Context, input pin.CreatePinInput) (*model.Pin, error) {
	return m.createPinFunc(ctx, input)
}

func (m *mockPinService) Confirm(ctx context.Context, pinID, actorID, membershipID string) (*model.Pin, error) {
	return m.confirmFunc(ctx, pinID, actorID, membershipID)
}

func (m *mockPinService) AttachItems(ctx context.Context, pinID string, lines []pin.AttachItemInput) ([]model.PinItem, error) {
	return m.attachItemsFunc(ctx, pinID, lines)
}

func (m *mockPinService) GetPin(ctx context.Context, pinID string) (*repository.PinWithItems, error) {
	return m.getPinFunc(ctx, pinID)
}

func (m *mockPinService) ListPins(ctx context.Context, status *model.PinStatus) ([]repository.PinWithItems, error) {
	return m.listPinsFunc(ctx, status)
}

// mockFulfillmentService はFulfillmentServiceInterfaceのモック。
type mockFulfillmentService struct {
	acceptItemsFunc func(ctx context.Context, pinID string, acceptances []fulfillment.Acceptance) (fulfillment.AcceptResult, error)
}

func (m *mockFulfillmentService) AcceptItems(ctx context.Context, pinID string, acceptances []fulfillment.Acceptance) (fulfillment.AcceptResult, error) {
	return m.acceptItemsFunc(ctx, pinID, acceptances)
}

// mockItemCatalog はItemCatalogInterfaceのモック。
type mockItemCatalog struct {
	listFunc func(ctx context.Context) ([]model.Item, error)
}

func (m *mockItemCatalog) List(ctx context.Context) ([]model.Item, error) {
	return m.listFunc(ctx)
}

// mockAggregateService はAggregateServiceInterfaceのモック。
type mockAggregateService struct {
	outstandingFunc func(ctx context.Context) ([]model.RegionNeed, error)
}

func (m *mockAggregateService) OutstandingByRegion(ctx context.Context) ([]model.RegionNeed, error) {
	return m.outstandingFunc(ctx)
}

func newTestRouter(pinService PinServiceInterface, fulfillmentService FulfillmentServiceInterface) (http.Handler, *middleware.RateLimiter) {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	router := NewRouter(&RouterDeps{
		CORSAllowedOrigin:  "http://localhost:3000",
		RateLimiter:        rl,
		PinService:         pinService,
		FulfillmentService: fulfillmentService,
		ItemCatalog: &mockItemCatalog{
			listFunc: func(ctx context.Context) ([]model.Item, error) { return nil, nil },
		},
		AggregateService: &mockAggregateService{
			outstandingFunc: func(ctx context.Context) ([]model.RegionNeed, error) { return nil, nil },
		},
	})
	return router, rl
}

func samplePin(status model.PinStatus) *model.Pin {
	return &model.Pin{
		ID:          "pin-1",
		Kind:        model.PinKindDamage,
		Status:      status,
		Phone:       "090-0000-0000",
		Description: "飲料水が不足しています",
		Lat:         38.26,
		Lng:         140.87,
		CreatedAt:   time.Now(),
	}
}

// TestCreatePin_ReturnsCreated は要請作成が201と作成内容を返すことを検証する。
func TestCreatePin_ReturnsCreated(t *testing.T) {
	pinService := &mockPinService{
		createPinFunc: func(ctx context.Context, input pin.CreatePinInput) (*model.Pin, error) {
			if input.Kind != model.PinKindDamage {
				t.Errorf("kind = %q, want %q", input.Kind, model.PinKindDamage)
			}
			return samplePin(model.PinStatusPending), nil
		},
	}
	router, rl := newTestRouter(pinService, &mockFulfillmentService{})
	defer rl.Stop()

	body := `{"kind":"damage","phone":"090-0000-0000","description":"飲料水が不足しています","lat":38.26,"lng":140.87}`
	req := httptest.NewRequest(http.MethodPost, "/api/pins", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var resp pinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.ID != "pin-1" || resp.Status != "pending" {
		t.Errorf("response = %+v", resp)
	}
}

// TestCreatePin_PassesActorToService はアクターヘッダーが報告者として
// サービスに渡ることを検証する。
func TestCreatePin_PassesActorToService(t *testing.T) {
	var gotInput pin.CreatePinInput
	pinService := &mockPinService{
		createPinFunc: func(ctx context.Context, input pin.CreatePinInput) (*model.Pin, error) {
			gotInput = input
			return samplePin(model.PinStatusConfirmed), nil
		},
	}
	router, rl := newTestRouter(pinService, &mockFulfillmentService{})
	defer rl.Stop()

	body := `{"kind":"damage","phone":"090-0000-0000","description":"説明","lat":38.26,"lng":140.87}`
	req := httptest.NewRequest(http.MethodPost, "/api/pins", bytes.NewBufferString(body))
	req.Header.Set("X-Actor-Id", "actor-1")
	req.Header.Set("X-Actor-Role", "tracker")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if gotInput.ReporterID == nil || *gotInput.ReporterID != "actor-1" {
		t.Errorf("ReporterID = %v, want actor-1", gotInput.ReporterID)
	}
	if gotInput.ReporterRole != "tracker" {
		t.Errorf("ReporterRole = %q, want tracker", gotInput.ReporterRole)
	}
}

// TestCreatePin_InvalidBody は不正なJSONが400になることを検証する。
func TestCreatePin_InvalidBody(t *testing.T) {
	router, rl := newTestRouter(&mockPinService{}, &mockFulfillmentService{})
	defer rl.Stop()

	req := httptest.NewRequest(http.MethodPost, "/api/pins", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// TestGetPin_NotFound は削除済み要請の取得が404と案内文を返すことを検証する。
func TestGetPin_NotFound(t *testing.T) {
	pinService := &mockPinService{
		getPinFunc: func(ctx context.Context, pinID string) (*repository.PinWithItems, error) {
			return nil, model.NewPinNotFoundError(pinID)
		},
	}
	router, rl := newTestRouter(pinService, &mockFulfillmentService{})
	defer rl.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/pins/pin-gone", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	var resp apiErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.Code != model.ErrCodePinNotFound {
		t.Errorf("code = %q, want %q", resp.Code, model.ErrCodePinNotFound)
	}
	if resp.Action == "" {
		t.Error("action is empty (UI needs guidance for resolved pins)")
	}
}

// TestListPins_FiltersByStatus はstatusクエリがサービスに渡ることを検証する。
func TestListPins_FiltersByStatus(t *testing.T) {
	var gotStatus *model.PinStatus
	pinService := &mockPinService{
		listPinsFunc: func(ctx context.Context, status *model.PinStatus) ([]repository.PinWithItems, error) {
			gotStatus = status
			return []repository.PinWithItems{{Pin: *samplePin(model.PinStatusConfirmed)}}, nil
		},
	}
	router, rl := newTestRouter(pinService, &mockFulfillmentService{})
	defer rl.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/pins?status=confirmed", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotStatus == nil || *gotStatus != model.PinStatusConfirmed {
		t.Errorf("status filter = %v, want confirmed", gotStatus)
	}
}

// TestListPins_RejectsUnknownStatus は未定義のstatus値が400になることを検証する。
func TestListPins_RejectsUnknownStatus(t *testing.T) {
	router, rl := newTestRouter(&mockPinService{}, &mockFulfillmentService{})
	defer rl.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/pins?status=resolved", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// TestConfirm_RequiresActor は匿名での確認操作が401になることを検証する。
func TestConfirm_RequiresActor(t *testing.T) {
	router, rl := newTestRouter(&mockPinService{}, &mockFulfillmentService{})
	defer rl.Stop()

	body := `{"membership_id":"m1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pins/pin-1/confirm", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

// TestConfirm_UnauthorizedActor はトラッカー権限のないアクターの確認が
// 403になることを検証する。
func TestConfirm_UnauthorizedActor(t *testing.T) {
	pinService := &mockPinService{
		confirmFunc: func(ctx context.Context, pinID, actorID, membershipID string) (*model.Pin, error) {
			return nil, model.NewUnauthorizedError()
		},
	}
	router, rl := newTestRouter(pinService, &mockFulfillmentService{})
	defer rl.Stop()

	body := `{"membership_id":"m1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pins/pin-1/confirm", bytes.NewBufferString(body))
	req.Header.Set("X-Actor-Id", "actor-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

// TestAccept_ReturnsResult は受諾が適用結果を返すことを検証する。
func TestAccept_ReturnsResult(t *testing.T) {
	fulfillmentService := &mockFulfillmentService{
		acceptItemsFunc: func(ctx context.Context, pinID string, acceptances []fulfillment.Acceptance) (fulfillment.AcceptResult, error) {
			if len(acceptances) != 2 {
				t.Errorf("got %d acceptances, want 2", len(acceptances))
			}
			return fulfillment.AcceptResult{Accepted: true, Completed: true}, nil
		},
	}
	router, rl := newTestRouter(&mockPinService{}, fulfillmentService)
	defer rl.Stop()

	body := `{"acceptances":[{"pin_item_id":"line-1","quantity":4},{"pin_item_id":"line-2","quantity":5}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/pins/pin-1/accept", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp acceptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if !resp.Accepted || !resp.Completed {
		t.Errorf("response = %+v, want accepted and completed", resp)
	}
}

// TestAccept_PartialFailureReturns202 は完了削除失敗時に202と
// 部分成功の結果が返ることを検証する。
func TestAccept_PartialFailureReturns202(t *testing.T) {
	fulfillmentService := &mockFulfillmentService{
		acceptItemsFunc: func(ctx context.Context, pinID string, acceptances []fulfillment.Acceptance) (fulfillment.AcceptResult, error) {
			return fulfillment.AcceptResult{Accepted: true, Completed: false},
				model.NewPartialFailureError(context.DeadlineExceeded)
		},
	}
	router, rl := newTestRouter(&mockPinService{}, fulfillmentService)
	defer rl.Stop()

	body := `{"acceptances":[{"pin_item_id":"line-1","quantity":4}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/pins/pin-1/accept", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	var resp acceptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if !resp.Accepted || resp.Completed {
		t.Errorf("response = %+v, want accepted but not completed", resp)
	}
}

// TestAccept_PinGoneReturns404 は削除済み要請への受諾が404になることを検証する。
func TestAccept_PinGoneReturns404(t *testing.T) {
	fulfillmentService := &mockFulfillmentService{
		acceptItemsFunc: func(ctx context.Context, pinID string, acceptances []fulfillment.Acceptance) (fulfillment.AcceptResult, error) {
			return fulfillment.AcceptResult{}, model.NewPinNotFoundError(pinID)
		},
	}
	router, rl := newTestRouter(&mockPinService{}, fulfillmentService)
	defer rl.Stop()

	body := `{"acceptances":[{"pin_item_id":"line-1","quantity":4}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/pins/pin-gone/accept", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// TestAttachItems_ReturnsCreated はラインアイテム登録が201を返すことを検証する。
func TestAttachItems_ReturnsCreated(t *testing.T) {
	pinService := &mockPinService{
		attachItemsFunc: func(ctx context.Context, pinID string, lines []pin.AttachItemInput) ([]model.PinItem, error) {
			items := make([]model.PinItem, len(lines))
			for i, line := range lines {
				items[i] = model.PinItem{
					ID:           "line-1",
					PinID:        pinID,
					ItemID:       line.ItemID,
					RequestedQty: line.RequestedQty,
					RemainingQty: line.RequestedQty,
				}
			}
			return items, nil
		},
	}
	router, rl := newTestRouter(pinService, &mockFulfillmentService{})
	defer rl.Stop()

	body := `{"items":[{"item_id":"item-1","requested_qty":10}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/pins/pin-1/items", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var resp []pinItemResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if len(resp) != 1 || resp[0].RemainingQty != 10 {
		t.Errorf("response = %+v", resp)
	}
}
