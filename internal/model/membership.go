// Package model はドメインモデルを定義する。
package model

import "time"

// Membership はアクターの所属情報を表す。
// 認可ゲートと通知ファンアウトへの読み取り専用の入力であり、
// コアはこのテーブルを変更しない。
type Membership struct {
	ID        string
	ActorID   string
	Role      MembershipRole
	Active    bool
	CreatedAt time.Time
}

// MembershipRole はメンバーシップの役割を表す。
type MembershipRole string

const (
	// RoleTracker は現地で要請を確認できるトラッカー。
	RoleTracker MembershipRole = "tracker"
	// RoleMember は一般メンバー。
	RoleMember MembershipRole = "member"
	// RoleOrganization は支援団体アカウント。
	RoleOrganization MembershipRole = "organization"
)

// IsActiveTracker はアクティブなトラッカーメンバーシップかどうかを返す。
func (m Membership) IsActiveTracker() bool {
	return m.Active && m.Role == RoleTracker
}
