// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は報告者が入力する自由記述テキスト（要請の説明文など）を
// サニタイズし、ダッシュボードや通知に表示した際のXSSを防止する。
// bluemondayのStrictPolicyを使用し、マークアップを一切許可しない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は自由記述テキストのサニタイズ機能のインターフェースを定義する。
// 救援要請の保存前に使用される。
type TextSanitizerService interface {
	// Sanitize はテキストから全てのHTMLタグ・属性を除去したプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// 救援要請の説明文は表示時に装飾を必要としないため、
// StrictPolicy（全タグ除去）を採用する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はテキストから全てのHTMLタグ・属性を除去したプレーンテキストを返す。
// タグ除去後の前後空白もあわせて取り除く。
func (s *textSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
