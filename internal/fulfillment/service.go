// Package fulfillment は物資の受諾と要請の完了処理を提供する。
// 受諾はラインアイテム残数のサーバーサイド減算として適用され、
// 全件充足された要請はレコードごと削除される（不在＝完了）。
package fulfillment

import (
	"context"
	"log/slog"

	"github.com/hitoshi/kyuen/internal/metrics"
	"github.com/hitoshi/kyuen/internal/model"
	"github.com/hitoshi/kyuen/internal/repository"
)

// Acceptance は受諾バッチの1行分の入力。
type Acceptance struct {
	PinItemID string
	Quantity  int
}

// AcceptResult は受諾バッチの適用結果。
// 完了削除だけが失敗した場合、AcceptedはtrueのままCompletedがfalseになる。
// その状態はreconcileが自動的に回復する。
type AcceptResult struct {
	// Accepted は残数の減算が反映されたかどうか。
	Accepted bool
	// Completed は全ラインアイテムの充足により要請が削除されたかどうか。
	Completed bool
}

// RegionCacheInvalidator は完了削除されたPinの地域キャッシュを無効化する。
type RegionCacheInvalidator interface {
	Delete(pinID string)
}

// Service は受諾と完了処理のサービス層。
type Service struct {
	pinRepo     repository.PinRepository
	pinItemRepo repository.PinItemRepository
	regionCache RegionCacheInvalidator
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// regionCacheはnilでもよい（ワーカー単体での利用など）。
func NewService(
	pinRepo repository.PinRepository,
	pinItemRepo repository.PinItemRepository,
	regionCache RegionCacheInvalidator,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		pinRepo:     pinRepo,
		pinItemRepo: pinItemRepo,
		regionCache: regionCache,
		logger:      logger,
		metrics:     collector,
	}
}

// AcceptItems は受諾バッチを適用する。
// 各行の減算はデータベース側で残数0を下限に打ち止めされるため、
// 並行する受諾が重なっても残数が負になることはない。
// 適用後に全ラインアイテムが充足されていれば要請を削除する。
// 削除だけが失敗した場合はPARTIAL_FAILUREを返す（受諾は保存済み）。
func (s *Service) AcceptItems(ctx context.Context, pinID string, acceptances []Acceptance) (AcceptResult, error) {
	if len(acceptances) == 0 {
		return AcceptResult{}, model.NewValidationError("受諾する物資を1件以上指定してください")
	}
	for _, a := range acceptances {
		if a.Quantity <= 0 {
			return AcceptResult{}, model.NewValidationError("受諾数量は正の整数で指定してください")
		}
	}

	p, err := s.pinRepo.FindByID(ctx, pinID)
	if err != nil {
		return AcceptResult{}, model.NewStoreError(err)
	}
	if p == nil {
		// 並行する完了処理により既に削除された可能性がある。
		// 呼び出し側は「既に解決済み」として扱う。
		return AcceptResult{}, model.NewPinNotFoundError(pinID)
	}
	if p.Status != model.PinStatusConfirmed {
		return AcceptResult{}, model.NewValidationError("確認済みの要請に対してのみ受諾できます")
	}

	appliedLines := 0
	appliedQuantity := 0
	for _, a := range acceptances {
		_, found, err := s.pinItemRepo.AcceptQuantity(ctx, pinID, a.PinItemID, a.Quantity)
		if err != nil {
			if appliedLines > 0 {
				// 一部の行は既に反映済み。残りはreconcileに委ねる。
				s.metrics.RecordAcceptBatch(appliedLines, appliedQuantity)
				return AcceptResult{Accepted: true}, model.NewPartialFailureError(err)
			}
			return AcceptResult{}, model.NewStoreError(err)
		}
		if !found {
			// 行が既に存在しない＝並行する完了削除と競合した。受諾済み扱いで流す。
			s.logger.Info("受諾対象のラインアイテムが存在しないためスキップします",
				slog.String("pin_id", pinID),
				slog.String("pin_item_id", a.PinItemID),
			)
			continue
		}
		appliedLines++
		appliedQuantity += a.Quantity
	}

	s.metrics.RecordAcceptBatch(appliedLines, appliedQuantity)

	total, outstanding, err := s.pinItemRepo.CountOutstanding(ctx, pinID)
	if err != nil {
		return AcceptResult{Accepted: true}, model.NewPartialFailureError(err)
	}
	if total == 0 || outstanding > 0 {
		return AcceptResult{Accepted: true}, nil
	}

	// 全ラインアイテムが充足された。要請を削除して完了とする。
	if err := s.pinRepo.DeleteWithItems(ctx, pinID); err != nil {
		s.logger.Error("完了削除に失敗しました。reconcileによる回復を待ちます",
			slog.String("pin_id", pinID),
			slog.String("error", err.Error()),
		)
		return AcceptResult{Accepted: true}, model.NewPartialFailureError(err)
	}

	s.onCompleted(pinID)
	s.logger.Info("全物資の充足により要請を完了しました", slog.String("pin_id", pinID))
	return AcceptResult{Accepted: true, Completed: true}, nil
}

// Reconcile は指定Pinの完了状態を再確認し、必要なら完了削除をやり直す。
// 冪等であり、対象が既に削除済みの場合は何もしない。
// 回復を行った場合にtrueを返す。
func (s *Service) Reconcile(ctx context.Context, pinID string) (bool, error) {
	p, err := s.pinRepo.FindByID(ctx, pinID)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}

	items, err := s.pinItemRepo.ListByPin(ctx, pinID)
	if err != nil {
		return false, err
	}

	if len(items) == 0 {
		// ラインアイテムだけ消えた「空完了」状態。本体を削除して揃える。
		if err := s.pinRepo.Delete(ctx, pinID); err != nil {
			return false, err
		}
		s.onCompleted(pinID)
		s.metrics.RecordReconcileHealed()
		s.logger.Info("ラインアイテムを持たない要請を完了削除しました", slog.String("pin_id", pinID))
		return true, nil
	}

	for _, item := range items {
		if item.RemainingQty > 0 {
			return false, nil
		}
	}

	if err := s.pinRepo.DeleteWithItems(ctx, pinID); err != nil {
		return false, err
	}
	s.onCompleted(pinID)
	s.metrics.RecordReconcileHealed()
	s.logger.Info("充足済みの要請を完了削除しました", slog.String("pin_id", pinID))
	return true, nil
}

func (s *Service) onCompleted(pinID string) {
	s.metrics.RecordPinCompleted()
	if s.regionCache != nil {
		s.regionCache.Delete(pinID)
	}
}
