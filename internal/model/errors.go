// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, auth, pin, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodePinNotFound     = "PIN_NOT_FOUND"
	ErrCodePinItemNotFound = "PIN_ITEM_NOT_FOUND"
	ErrCodeItemNotFound    = "ITEM_NOT_FOUND"
	ErrCodeStoreFailure    = "STORE_FAILURE"
	ErrCodePartialFailure  = "PARTIAL_FAILURE"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUnauthorizedError は認可エラーを生成する。
// 有効なトラッカーメンバーシップを持たないアクターによる確認操作で発生する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "この操作にはアクティブなトラッカー権限が必要です。",
		Category: "auth",
		Action:   "トラッカーとして登録済みのアカウントで操作してください。",
	}
}

// NewPinNotFoundError はPin未検出エラーを生成する。
// 並行する完了処理によって既に削除されたPinへの操作でも発生するため、
// 呼び出し側は「既に解決済み」の正常系として扱ってよい。
func NewPinNotFoundError(pinID string) *APIError {
	return &APIError{
		Code:     ErrCodePinNotFound,
		Message:  fmt.Sprintf("指定された救援要請が見つかりません: %s", pinID),
		Category: "pin",
		Action:   "要請は既に充足され解決済みの可能性があります。一覧を再読み込みしてください。",
	}
}

// NewPinItemNotFoundError はラインアイテム未検出エラーを生成する。
func NewPinItemNotFoundError(pinItemID string) *APIError {
	return &APIError{
		Code:     ErrCodePinItemNotFound,
		Message:  fmt.Sprintf("指定された物資ラインアイテムが見つかりません: %s", pinItemID),
		Category: "pin",
		Action:   "要請の物資一覧を再読み込みしてください。",
	}
}

// NewItemNotFoundError はカタログ物資の未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("指定された物資が見つかりません: %s", itemID),
		Category: "validation",
		Action:   "物資IDを確認してください。",
	}
}

// NewStoreError は永続化層の失敗エラーを生成する。
// 診断のため元のエラーメッセージを保持する。
func NewStoreError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreFailure,
		Message:  fmt.Sprintf("データストアの操作に失敗しました: %v", err),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPartialFailureError は受諾は成功したが完了削除に失敗した場合のエラーを生成する。
// 呼び出し側はreconcileによるリトライで回復できる。
func NewPartialFailureError(err error) *APIError {
	return &APIError{
		Code:     ErrCodePartialFailure,
		Message:  fmt.Sprintf("数量の受諾は反映されましたが、完了処理に失敗しました: %v", err),
		Category: "system",
		Action:   "受諾内容は保存されています。完了処理は自動的に再試行されます。",
	}
}
