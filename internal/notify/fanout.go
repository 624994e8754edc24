// Package notify は救援要請作成時の通知ファンアウトを提供する。
// 通知はベストエフォートであり、ファンアウトの失敗が
// 要請作成そのものを失敗させることはない。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kyuen/internal/metrics"
	"github.com/hitoshi/kyuen/internal/model"
	"github.com/hitoshi/kyuen/internal/repository"
)

// maxBodyRunes は通知本文の最大文字数。超過分は切り詰めて省略記号を付ける。
const maxBodyRunes = 140

// notificationTitle はPin作成通知のタイトル。
const notificationTitle = "新しい救援要請が報告されました"

// Service は通知ファンアウトのサービス層。
// 宛先の解決、本文の整形、通知レコードのバッチ挿入を行う。
type Service struct {
	membershipRepo   repository.MembershipRepository
	notificationRepo repository.NotificationRepository
	logger           *slog.Logger
	metrics          metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	membershipRepo repository.MembershipRepository,
	notificationRepo repository.NotificationRepository,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		membershipRepo:   membershipRepo,
		notificationRepo: notificationRepo,
		logger:           logger,
		metrics:          collector,
	}
}

// pinSnapshot は通知ペイロードに埋め込むPinのスナップショット。
type pinSnapshot struct {
	PinID     string    `json:"pin_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	CreatedAt time.Time `json:"created_at"`
}

// FanOutPinCreated はPin作成通知をアクティブなトラッカー全員に配信する。
// 報告者自身は宛先から除外する。トラッカーが1人も解決できない場合は
// 役割を問わないアクティブメンバー全員へフォールバックする。
// 失敗はログとメトリクスに記録した上でエラーとして返すが、
// 呼び出し側が要請作成の結果に反映してはならない。
func (s *Service) FanOutPinCreated(ctx context.Context, pin *model.Pin) error {
	recipients, err := s.resolveRecipients(ctx, pin.ReporterID)
	if err != nil {
		s.metrics.RecordFanoutFailure()
		s.logger.Error("通知宛先の解決に失敗しました",
			slog.String("pin_id", pin.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	if len(recipients) == 0 {
		s.logger.Info("通知の宛先がいないためファンアウトをスキップします",
			slog.String("pin_id", pin.ID),
		)
		return nil
	}

	payload, err := json.Marshal(pinSnapshot{
		PinID:     pin.ID,
		Kind:      string(pin.Kind),
		Status:    string(pin.Status),
		Lat:       pin.Lat,
		Lng:       pin.Lng,
		CreatedAt: pin.CreatedAt,
	})
	if err != nil {
		s.metrics.RecordFanoutFailure()
		return fmt.Errorf("通知ペイロードのエンコードに失敗しました: %w", err)
	}

	body := truncateBody(pin.Description)
	now := time.Now()

	notifications := make([]*model.Notification, len(recipients))
	for i, recipientID := range recipients {
		notifications[i] = &model.Notification{
			ID:          uuid.New().String(),
			RecipientID: recipientID,
			Type:        model.NotificationTypePinCreated,
			Title:       notificationTitle,
			Body:        body,
			Payload:     payload,
			CreatedAt:   now,
		}
	}

	if err := s.notificationRepo.CreateBatch(ctx, notifications); err != nil {
		s.metrics.RecordFanoutFailure()
		s.logger.Error("通知レコードの挿入に失敗しました",
			slog.String("pin_id", pin.ID),
			slog.Int("recipients", len(recipients)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("通知レコードの挿入に失敗しました: %w", err)
	}

	s.metrics.RecordFanoutNotifications(len(notifications))
	s.logger.Info("通知をファンアウトしました",
		slog.String("pin_id", pin.ID),
		slog.Int("recipients", len(notifications)),
	)
	return nil
}

// resolveRecipients はファンアウトの宛先アクターIDを解決する。
// 第一候補はアクティブなトラッカー。空の場合はアクティブメンバー全員。
// いずれの場合も報告者自身を除外する。
func (s *Service) resolveRecipients(ctx context.Context, reporterID *string) ([]string, error) {
	trackers, err := s.membershipRepo.ListActiveTrackerActorIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("トラッカー一覧の取得に失敗しました: %w", err)
	}

	recipients := excludeReporter(trackers, reporterID)
	if len(recipients) > 0 {
		return recipients, nil
	}

	// トラッカー不在時の緩和フィルタ
	members, err := s.membershipRepo.ListActiveActorIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("アクティブメンバー一覧の取得に失敗しました: %w", err)
	}
	return excludeReporter(members, reporterID), nil
}

func excludeReporter(actorIDs []string, reporterID *string) []string {
	if reporterID == nil {
		return actorIDs
	}
	filtered := make([]string, 0, len(actorIDs))
	for _, id := range actorIDs {
		if id != *reporterID {
			filtered = append(filtered, id)
		}
	}
	return filtered
}

// truncateBody は説明文を通知本文の上限文字数に切り詰める。
// マルチバイト文字を壊さないようルーン単位で切る。
func truncateBody(description string) string {
	runes := []rune(description)
	if len(runes) <= maxBodyRunes {
		return description
	}
	return string(runes[:maxBodyRunes]) + "…"
}
