package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kyuen/internal/model"
)

// PostgresItemRepo はPostgreSQLを使用した物資カタログリポジトリ。
// カタログはマイグレーションで投入される参照データで、コアからは読み取り専用。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

// FindByID は指定IDの物資を取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	item := &model.Item{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, unit, category, created_at FROM items WHERE id = $1`,
		id,
	).Scan(&item.ID, &item.Name, &item.Unit, &item.Category, &item.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("物資の取得に失敗しました: %w", err)
	}
	return item, nil
}

// List は物資カタログ全件をカテゴリ・名前順で返す。
func (r *PostgresItemRepo) List(ctx context.Context) ([]model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, unit, category, created_at FROM items ORDER BY category, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("物資カタログの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var item model.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Unit, &item.Category, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("物資のスキャンに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
