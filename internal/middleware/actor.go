// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
)

const (
	actorIDHeader   = "X-Actor-Id"
	actorRoleHeader = "X-Actor-Role"
)

// Actor はリクエスト元の身元情報を表す。
// 認証は上流のゲートウェイで行われ、ここではヘッダーを信頼して受け取る。
type Actor struct {
	ID   string
	Role string
}

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// actorContextKey はリクエストコンテキストにアクター情報を格納するためのキー。
var actorContextKey = contextKey("actor")

// NewActorMiddleware はリクエストヘッダーからアクター情報を読み取り、
// コンテキストに注入するミドルウェアを返す。
// ヘッダーがない場合は匿名リクエストとしてそのまま通す。
// 匿名でも救援要請の報告は可能なため、ここでは認可判定を行わない。
func NewActorMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := r.Header.Get(actorIDHeader)
			if actorID == "" {
				next.ServeHTTP(w, r)
				return
			}

			actor := Actor{
				ID:   actorID,
				Role: r.Header.Get(actorRoleHeader),
			}
			ctx := context.WithValue(r.Context(), actorContextKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext はリクエストコンテキストからアクター情報を取得する。
// 匿名リクエストの場合はok=falseを返す。
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(Actor)
	return actor, ok
}

// ContextWithActor はコンテキストにアクター情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}
