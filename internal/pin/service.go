// Package pin は救援要請（Pin）のドメインロジックを提供する。
// 報告の受付、ステータス判定、トラッカーによる確認、
// 物資ラインアイテムの登録を担当する。
package pin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kyuen/internal/metrics"
	"github.com/hitoshi/kyuen/internal/model"
	"github.com/hitoshi/kyuen/internal/notify"
	"github.com/hitoshi/kyuen/internal/repository"
	"github.com/hitoshi/kyuen/internal/security"
)

// CreatePinInput は救援要請の作成入力。
type CreatePinInput struct {
	Kind        model.PinKind
	Phone       string
	Description string
	Lat         float64
	Lng         float64
	// ReporterID は報告者のアクターID。匿名報告の場合はnil。
	ReporterID *string
	// ReporterRole はリクエストヘッダーから取得した報告者の役割。
	// 匿名報告の場合は空文字列。
	ReporterRole string
	ImageURL     *string
}

// AttachItemInput はラインアイテム登録の1行分の入力。
type AttachItemInput struct {
	ItemID       string
	RequestedQty int
}

// Service は救援要請のサービス層。
type Service struct {
	pinRepo        repository.PinRepository
	pinItemRepo    repository.PinItemRepository
	itemRepo       repository.ItemRepository
	membershipRepo repository.MembershipRepository
	notifyService  *notify.Service
	sanitizer      security.TextSanitizerService
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	// notifyTimeout はファンアウト用の独立コンテキストの期限。
	// リクエストコンテキストから切り離して実行するために使う。
	notifyTimeout time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	pinRepo repository.PinRepository,
	pinItemRepo repository.PinItemRepository,
	itemRepo repository.ItemRepository,
	membershipRepo repository.MembershipRepository,
	notifyService *notify.Service,
	sanitizer security.TextSanitizerService,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	notifyTimeout time.Duration,
) *Service {
	return &Service{
		pinRepo:        pinRepo,
		pinItemRepo:    pinItemRepo,
		itemRepo:       itemRepo,
		membershipRepo: membershipRepo,
		notifyService:  notifyService,
		sanitizer:      sanitizer,
		logger:         logger,
		metrics:        collector,
		notifyTimeout:  notifyTimeout,
	}
}

// CreatePin は救援要請を作成する。
// 初期ステータスは報告者の身元から判定する：
// 匿名はpending、アクティブなトラッカーまたは支援団体はconfirmed、
// それ以外のログイン済みメンバーはpending。
// 作成成功後、通知ファンアウトを非同期で起動する。
// ファンアウトの成否は作成結果に影響しない。
func (s *Service) CreatePin(ctx context.Context, input CreatePinInput) (*model.Pin, error) {
	if !input.Kind.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("未定義の要請種別です: %s", input.Kind))
	}
	if input.Phone == "" {
		return nil, model.NewValidationError("連絡先電話番号は必須です")
	}
	if input.Lat < -90 || input.Lat > 90 {
		return nil, model.NewValidationError("緯度は-90から90の範囲で指定してください")
	}
	if input.Lng < -180 || input.Lng > 180 {
		return nil, model.NewValidationError("経度は-180から180の範囲で指定してください")
	}

	description := s.sanitizer.Sanitize(input.Description)
	if description == "" {
		return nil, model.NewValidationError("要請の説明は必須です")
	}

	status, err := s.determineInitialStatus(ctx, input.ReporterID, input.ReporterRole)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p := &model.Pin{
		ID:          uuid.New().String(),
		Kind:        input.Kind,
		Status:      status,
		Phone:       input.Phone,
		Description: description,
		Lat:         input.Lat,
		Lng:         input.Lng,
		ReporterID:  input.ReporterID,
		ImageURL:    input.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == model.PinStatusConfirmed {
		confirmedAt := now
		p.ConfirmedAt = &confirmedAt
	}

	if err := s.pinRepo.Create(ctx, p); err != nil {
		return nil, model.NewStoreError(err)
	}

	s.metrics.RecordPinCreated(string(status))
	s.logger.Info("救援要請を作成しました",
		slog.String("pin_id", p.ID),
		slog.String("kind", string(p.Kind)),
		slog.String("status", string(p.Status)),
	)

	// ファンアウトはリクエストのライフサイクルから切り離して実行する
	go func() {
		fanoutCtx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := s.notifyService.FanOutPinCreated(fanoutCtx, p); err != nil {
			s.logger.Warn("通知ファンアウトに失敗しました",
				slog.String("pin_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return p, nil
}

// determineInitialStatus は報告者の身元から初期ステータスを判定する。
func (s *Service) determineInitialStatus(ctx context.Context, reporterID *string, reporterRole string) (model.PinStatus, error) {
	if reporterID == nil {
		return model.PinStatusPending, nil
	}

	isTracker, err := s.membershipRepo.HasActiveTracker(ctx, *reporterID)
	if err != nil {
		return "", model.NewStoreError(err)
	}
	if isTracker {
		return model.PinStatusConfirmed, nil
	}
	if reporterRole == string(model.RoleOrganization) {
		return model.PinStatusConfirmed, nil
	}
	return model.PinStatusPending, nil
}

// Confirm はpending状態のPinをトラッカーが確認済みに遷移させる。
// 指定メンバーシップがアクター本人のアクティブなトラッカーでない場合は
// 認可エラーを返す。既にconfirmedの場合は何も変更せず成功を返す（冪等）。
func (s *Service) Confirm(ctx context.Context, pinID, actorID, membershipID string) (*model.Pin, error) {
	membership, err := s.membershipRepo.FindByID(ctx, membershipID)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if membership == nil || membership.ActorID != actorID || !membership.IsActiveTracker() {
		return nil, model.NewUnauthorizedError()
	}

	p, err := s.pinRepo.FindByID(ctx, pinID)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if p == nil {
		return nil, model.NewPinNotFoundError(pinID)
	}

	confirmedAt := time.Now()
	updated, err := s.pinRepo.Confirm(ctx, pinID, membershipID, confirmedAt)
	if err != nil {
		return nil, model.NewStoreError(err)
	}

	if updated {
		p.Status = model.PinStatusConfirmed
		p.ConfirmedMembershipID = &membershipID
		p.ConfirmedAt = &confirmedAt
		s.metrics.RecordPinConfirmed()
		s.logger.Info("救援要請を確認しました",
			slog.String("pin_id", pinID),
			slog.String("membership_id", membershipID),
		)
		return p, nil
	}

	// updated=falseは並行する確認との競合。既にconfirmedなので成功扱いとし、
	// 先の読み取りが持つ古いpending状態を応答に残さないよう再取得する。
	refreshed, err := s.pinRepo.FindByID(ctx, pinID)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if refreshed != nil {
		return refreshed, nil
	}
	// 再取得の合間に完了削除された場合も、確認自体は成立済みとして扱う。
	p.Status = model.PinStatusConfirmed
	return p, nil
}

// AttachItems はPinに物資ラインアイテムを登録する。
// 全行の数量が正であることを事前に検証し、1行でも不正があれば
// バッチ全体を拒否する。残数は要求数量と同値で初期化される。
func (s *Service) AttachItems(ctx context.Context, pinID string, lines []AttachItemInput) ([]model.PinItem, error) {
	if len(lines) == 0 {
		return nil, model.NewValidationError("物資ラインアイテムを1件以上指定してください")
	}
	for _, line := range lines {
		if line.RequestedQty <= 0 {
			return nil, model.NewValidationError(fmt.Sprintf("数量は正の整数で指定してください: item_id=%s", line.ItemID))
		}
	}

	p, err := s.pinRepo.FindByID(ctx, pinID)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if p == nil {
		return nil, model.NewPinNotFoundError(pinID)
	}

	// カタログに存在しない物資IDを弾く
	for _, line := range lines {
		item, err := s.itemRepo.FindByID(ctx, line.ItemID)
		if err != nil {
			return nil, model.NewStoreError(err)
		}
		if item == nil {
			return nil, model.NewItemNotFoundError(line.ItemID)
		}
	}

	now := time.Now()
	items := make([]*model.PinItem, len(lines))
	for i, line := range lines {
		items[i] = &model.PinItem{
			ID:           uuid.New().String(),
			PinID:        pinID,
			ItemID:       line.ItemID,
			RequestedQty: line.RequestedQty,
			RemainingQty: line.RequestedQty,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	if err := s.pinItemRepo.CreateBatch(ctx, items); err != nil {
		return nil, model.NewStoreError(err)
	}

	s.logger.Info("物資ラインアイテムを登録しました",
		slog.String("pin_id", pinID),
		slog.Int("lines", len(items)),
	)

	results := make([]model.PinItem, len(items))
	for i, item := range items {
		results[i] = *item
	}
	return results, nil
}

// GetPin は指定Pinをラインアイテム付きで返す。
// 完了により削除済みの場合はPIN_NOT_FOUNDを返す。
func (s *Service) GetPin(ctx context.Context, pinID string) (*repository.PinWithItems, error) {
	row, err := s.pinRepo.FindWithItems(ctx, pinID)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	if row == nil {
		return nil, model.NewPinNotFoundError(pinID)
	}
	return row, nil
}

// ListPins はPinの一覧をラインアイテム付きで返す。
// statusがnilの場合は全件を返す。
func (s *Service) ListPins(ctx context.Context, status *model.PinStatus) ([]repository.PinWithItems, error) {
	rows, err := s.pinRepo.ListWithItems(ctx, status)
	if err != nil {
		return nil, model.NewStoreError(err)
	}
	return rows, nil
}
