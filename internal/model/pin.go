// Package model はドメインモデルを定義する。
package model

import "time"

// Pin は救援要請（地図上のピン）を表す。
// statusはpending→confirmedの一方向にのみ遷移する。
// 「完了」状態は保持しない：全ラインアイテムの充足時にPin自体が削除され、
// レコードの不在が完了を意味する。
type Pin struct {
	ID          string
	Kind        PinKind
	Status      PinStatus
	Phone       string
	Description string
	Lat         float64
	Lng         float64
	// ReporterID は報告者のアクターID。匿名報告の場合はnil。
	ReporterID *string
	// ImageURL は現場画像への参照。UI側でアップロードされたもの。
	ImageURL *string
	// ConfirmedMembershipID は確認を行ったトラッカーのメンバーシップID。
	ConfirmedMembershipID *string
	ConfirmedAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// PinKind は救援要請の種別を表す。
type PinKind string

const (
	// PinKindDamage は被害報告（物資・救助が必要な地点）。
	PinKindDamage PinKind = "damage"
	// PinKindShelter は避難所からの要請。
	PinKindShelter PinKind = "shelter"
)

// Valid はPinKindが定義済みの値かどうかを返す。
func (k PinKind) Valid() bool {
	return k == PinKindDamage || k == PinKindShelter
}

// PinStatus はPinの確認状態を表す。
type PinStatus string

const (
	// PinStatusPending はトラッカーによる確認待ちの状態。
	PinStatusPending PinStatus = "pending"
	// PinStatusConfirmed はトラッカーまたは支援団体により確認済みの状態。
	PinStatusConfirmed PinStatus = "confirmed"
)

// PinItem はPinに紐づく物資ラインアイテムを表す。
// 不変条件: 0 <= RemainingQty <= RequestedQty が常に成立する。
// RequestedQtyは作成時に固定され、RemainingQtyは受諾操作でのみ減少する。
type PinItem struct {
	ID           string
	PinID        string
	ItemID       string
	RequestedQty int
	RemainingQty int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AcceptedQty は受諾済み数量を返す。常に0以上かつ単調非減少。
func (pi PinItem) AcceptedQty() int {
	return pi.RequestedQty - pi.RemainingQty
}

// PinItemWithName はラインアイテムとカタログ情報を結合したモデル。
// itemsテーブルとJOINして取得される。
type PinItemWithName struct {
	PinItem
	ItemName string
	ItemUnit string
}

// DerivedStatus はダッシュボード表示用の派生状態を表す。
// DBには保存されず、ラインアイテムの残数から計算される。
// 全件充足されたPinは削除済みのため一覧に現れない（不在＝完了）。
type DerivedStatus string

const (
	// DerivedStatusPending はどのラインアイテムも未受諾の状態。
	DerivedStatusPending DerivedStatus = "pending"
	// DerivedStatusPartiallyAccepted は一部のみ受諾済みの状態。
	DerivedStatusPartiallyAccepted DerivedStatus = "partially_accepted"
)

// DerivePinStatus はラインアイテム群から派生状態を計算する。
// 1件でも受諾があればpartially_accepted、なければpending。
func DerivePinStatus(items []PinItem) DerivedStatus {
	for _, pi := range items {
		if pi.RemainingQty < pi.RequestedQty {
			return DerivedStatusPartiallyAccepted
		}
	}
	return DerivedStatusPending
}

// RegionNeed は地域×物資ごとの未充足数量の集計結果を表す。
type RegionNeed struct {
	Region              string
	ItemName            string
	Unit                string
	TotalQuantityNeeded int
}
