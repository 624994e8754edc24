// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/kyuen/internal/model"
)

// PinRepository は救援要請データの永続化インターフェース。
type PinRepository interface {
	// Create はPinを作成する。
	Create(ctx context.Context, pin *model.Pin) error

	// FindByID は指定IDのPinを取得する。見つからない場合はnilを返す。
	// 完了により削除済みのPinもnilになる（不在＝完了）。
	FindByID(ctx context.Context, id string) (*model.Pin, error)

	// Confirm はpending状態のPinをconfirmedに遷移させる。
	// 確認したメンバーシップIDと確認日時を記録する。
	// 既にconfirmedの場合は何も更新せずfalseを返す（冪等操作の判定用）。
	Confirm(ctx context.Context, pinID, membershipID string, confirmedAt time.Time) (bool, error)

	// Delete はPin本体のみを削除する。ラインアイテムを持たない
	// 「空完了」Pinの後始末に使用する。対象が存在しない場合もエラーにしない。
	Delete(ctx context.Context, pinID string) error

	// DeleteWithItems はPinの全ラインアイテムを削除した後、Pin本体を削除する。
	// 2段階の削除順序（アイテム→親）は必須の不変条件であり、
	// 読み取り側から中間状態が見えないよう単一トランザクションで実行する。
	DeleteWithItems(ctx context.Context, pinID string) error

	// FindWithItems は指定Pinをラインアイテム（カタログ情報付き）ごと取得する。
	// 見つからない場合はnilを返す。
	FindWithItems(ctx context.Context, id string) (*PinWithItems, error)

	// ListWithItems はPinの一覧をラインアイテム付きで返す。
	// statusがnilの場合は全件、指定された場合は該当ステータスのみ。
	// created_at降順で返す。
	ListWithItems(ctx context.Context, status *model.PinStatus) ([]PinWithItems, error)

	// ListReconcileCandidates は完了処理の再確認が必要なPinのIDを返す。
	// 対象: 残数が全て0のラインアイテムを持つPin、および
	// ラインアイテムを1件も持たずorphanGraceより古いPin。
	ListReconcileCandidates(ctx context.Context, orphanGrace time.Duration) ([]string, error)
}

// PinItemRepository は物資ラインアイテムの永続化インターフェース。
// 数量不変条件（0 <= remaining_qty <= requested_qty）はこの層で保証する。
type PinItemRepository interface {
	// CreateBatch は複数のラインアイテムを単一トランザクションで作成する。
	CreateBatch(ctx context.Context, items []*model.PinItem) error

	// ListByPin は指定Pinのラインアイテム一覧を返す。
	ListByPin(ctx context.Context, pinID string) ([]model.PinItem, error)

	// AcceptQuantity は指定ラインアイテムの残数をqtyだけ減算する。
	// 減算は remaining_qty = GREATEST(remaining_qty - qty, 0) を
	// 単一のUPDATE文でサーバーサイド実行する。アプリケーション側の
	// read-modify-writeを排除し、並行受諾でのロストアップデートを防ぐ。
	// 残数を超える受諾は0で打ち止めになる（エラーにしない）。
	// 対象行が存在しない場合はfound=falseを返す。
	AcceptQuantity(ctx context.Context, pinID, pinItemID string, qty int) (remaining int, found bool, err error)

	// CountOutstanding は指定Pinのラインアイテム総数と残数が残っている件数を返す。
	// 受諾バッチ適用後の完了判定に使用する。
	CountOutstanding(ctx context.Context, pinID string) (total int, outstanding int, err error)

	// ListOutstandingForAggregation は確認済みPinの全ラインアイテムを
	// 位置情報・カタログ情報付きで返す。地域別集計の入力となる。
	ListOutstandingForAggregation(ctx context.Context) ([]AggregationRow, error)
}

// ItemRepository は物資カタログの読み取り専用インターフェース。
type ItemRepository interface {
	// FindByID は指定IDの物資を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// List は物資カタログ全件をカテゴリ・名前順で返す。
	List(ctx context.Context) ([]model.Item, error)
}

// MembershipRepository はメンバーシップ情報の読み取り専用インターフェース。
// 認可ゲートと通知ファンアウトの入力となる。
type MembershipRepository interface {
	// FindByID は指定IDのメンバーシップを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Membership, error)

	// HasActiveTracker は指定アクターがアクティブなトラッカーメンバーシップを
	// 持つかどうかを返す。
	HasActiveTracker(ctx context.Context, actorID string) (bool, error)

	// ListActiveTrackerActorIDs はアクティブなトラッカーのアクターID一覧を返す。
	ListActiveTrackerActorIDs(ctx context.Context) ([]string, error)

	// ListActiveActorIDs は役割を問わないアクティブメンバーのアクターID一覧を返す。
	// トラッカーが1人も解決できない場合のファンアウト緩和フィルタに使用する。
	ListActiveActorIDs(ctx context.Context) ([]string, error)
}

// NotificationRepository は通知レコードの永続化インターフェース。
// コアからは書き込みのみ行う。
type NotificationRepository interface {
	// CreateBatch は複数の通知を単一バッチで挿入する。
	CreateBatch(ctx context.Context, notifications []*model.Notification) error
}

// PinWithItems はPinとそのラインアイテム（カタログ情報付き）を結合した構造体。
// ダッシュボード一覧用に派生状態の計算材料を含む。
type PinWithItems struct {
	model.Pin
	Items []model.PinItemWithName
}

// AggregationRow は地域別集計の入力1行を表す。
// 確認済みPinのラインアイテムにカタログ情報と座標を付与したもの。
type AggregationRow struct {
	PinID        string
	Lat          float64
	Lng          float64
	ItemName     string
	ItemUnit     string
	RemainingQty int
}
