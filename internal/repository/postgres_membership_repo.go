package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kyuen/internal/model"
)

// PostgresMembershipRepo はPostgreSQLを使用したメンバーシップリポジトリ。
// メンバーシップは上流システムが管理する参照データで、コアからは読み取り専用。
type PostgresMembershipRepo struct {
	db *sql.DB
}

// NewPostgresMembershipRepo はPostgresMembershipRepoを生成する。
func NewPostgresMembershipRepo(db *sql.DB) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: db}
}

// FindByID は指定IDのメンバーシップを取得する。見つからない場合はnilを返す。
func (r *PostgresMembershipRepo) FindByID(ctx context.Context, id string) (*model.Membership, error) {
	m := &model.Membership{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, actor_id, role, active, created_at FROM memberships WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.ActorID, &m.Role, &m.Active, &m.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メンバーシップの取得に失敗しました: %w", err)
	}
	return m, nil
}

// HasActiveTracker は指定アクターがアクティブなトラッカーメンバーシップを持つかを返す。
func (r *PostgresMembershipRepo) HasActiveTracker(ctx context.Context, actorID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM memberships
		     WHERE actor_id = $1 AND role = $2 AND active
		 )`,
		actorID, model.RoleTracker,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("トラッカー判定の取得に失敗しました: %w", err)
	}
	return exists, nil
}

// ListActiveTrackerActorIDs はアクティブなトラッカーのアクターID一覧を返す。
// 同一アクターが複数メンバーシップを持つ場合も1件に重複排除する。
func (r *PostgresMembershipRepo) ListActiveTrackerActorIDs(ctx context.Context) ([]string, error) {
	return r.listActorIDs(ctx,
		`SELECT DISTINCT actor_id FROM memberships WHERE role = $1 AND active ORDER BY actor_id`,
		model.RoleTracker,
	)
}

// ListActiveActorIDs は役割を問わないアクティブメンバーのアクターID一覧を返す。
func (r *PostgresMembershipRepo) ListActiveActorIDs(ctx context.Context) ([]string, error) {
	return r.listActorIDs(ctx,
		`SELECT DISTINCT actor_id FROM memberships WHERE active ORDER BY actor_id`,
	)
}

func (r *PostgresMembershipRepo) listActorIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("アクターID一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("アクターIDのスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
