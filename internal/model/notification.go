// Package model はドメインモデルを定義する。
package model

import "time"

// NotificationTypePinCreated はPin作成時のファンアウト通知タイプ。
const NotificationTypePinCreated = "pin_created"

// Notification は受信者1人分の通知レコードを表す。
// Pin作成時にトラッカー人数分のレコードがバッチ挿入される。
// コア内では書き込みのみで、以降のライフサイクルは持たない。
type Notification struct {
	ID          string
	RecipientID string
	Type        string
	Title       string
	// Body は要請の説明文を一定長に切り詰めたもの。
	Body string
	// Payload はPinのスナップショットをJSONエンコードしたもの。
	Payload   []byte
	CreatedAt time.Time
}
