package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/kyuen/internal/model"
)

// PostgresPinItemRepo はPostgreSQLを使用した物資ラインアイテムリポジトリ。
type PostgresPinItemRepo struct {
	db *sql.DB
}

// NewPostgresPinItemRepo はPostgresPinItemRepoを生成する。
func NewPostgresPinItemRepo(db *sql.DB) *PostgresPinItemRepo {
	return &PostgresPinItemRepo{db: db}
}

// CreateBatch は複数のラインアイテムを単一トランザクションで作成する。
// いずれかの挿入が失敗した場合は全件ロールバックする。
func (r *PostgresPinItemRepo) CreateBatch(ctx context.Context, items []*model.PinItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ラインアイテム作成トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pin_items (id, pin_id, item_id, requested_qty, remaining_qty, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
	)
	if err != nil {
		return fmt.Errorf("ラインアイテム挿入文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx,
			item.ID, item.PinID, item.ItemID,
			item.RequestedQty, item.RemainingQty, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("ラインアイテムの挿入に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ラインアイテム作成のコミットに失敗しました: %w", err)
	}
	return nil
}

// ListByPin は指定Pinのラインアイテム一覧を作成順で返す。
func (r *PostgresPinItemRepo) ListByPin(ctx context.Context, pinID string) ([]model.PinItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, pin_id, item_id, requested_qty, remaining_qty, created_at, updated_at
		 FROM pin_items WHERE pin_id = $1 ORDER BY created_at`,
		pinID,
	)
	if err != nil {
		return nil, fmt.Errorf("ラインアイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []model.PinItem
	for rows.Next() {
		var pi model.PinItem
		if err := rows.Scan(
			&pi.ID, &pi.PinID, &pi.ItemID,
			&pi.RequestedQty, &pi.RemainingQty, &pi.CreatedAt, &pi.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ラインアイテムのスキャンに失敗しました: %w", err)
		}
		items = append(items, pi)
	}
	return items, rows.Err()
}

// AcceptQuantity は指定ラインアイテムの残数をqtyだけ減算する。
// 減算・下限クランプ・永続化を単一のUPDATE文で行う。並行する受諾操作が
// 同じ行に重なっても、行ロックにより逐次適用され残数が負になることはない。
// 残数を超える受諾は0で打ち止めになる（仕様上、善意の過剰受諾はエラーにしない）。
func (r *PostgresPinItemRepo) AcceptQuantity(ctx context.Context, pinID, pinItemID string, qty int) (int, bool, error) {
	var remaining int
	err := r.db.QueryRowContext(ctx,
		`UPDATE pin_items
		 SET remaining_qty = GREATEST(remaining_qty - $1, 0), updated_at = $2
		 WHERE id = $3 AND pin_id = $4
		 RETURNING remaining_qty`,
		qty, time.Now().UTC(), pinItemID, pinID,
	).Scan(&remaining)

	if err == sql.ErrNoRows {
		// 並行する完了処理で既に削除されている場合など
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("数量の受諾に失敗しました: %w", err)
	}
	return remaining, true, nil
}

// CountOutstanding は指定Pinのラインアイテム総数と残数ありの件数を返す。
// 単一クエリで取得するため、受諾バッチ適用後の一貫したスナップショットになる。
func (r *PostgresPinItemRepo) CountOutstanding(ctx context.Context, pinID string) (int, int, error) {
	var total, outstanding int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*), count(*) FILTER (WHERE remaining_qty > 0)
		 FROM pin_items WHERE pin_id = $1`,
		pinID,
	).Scan(&total, &outstanding)
	if err != nil {
		return 0, 0, fmt.Errorf("残数集計の取得に失敗しました: %w", err)
	}
	return total, outstanding, nil
}

// ListOutstandingForAggregation は確認済みPinの全ラインアイテムを
// 位置情報・カタログ情報付きで返す。完了したPinは削除済みのため、
// ここに現れる行は定義上すべて未解決の要請に属する。
func (r *PostgresPinItemRepo) ListOutstandingForAggregation(ctx context.Context) ([]AggregationRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.lat, p.lng, i.name, i.unit, pi.remaining_qty
		 FROM pin_items pi
		 JOIN pins p ON p.id = pi.pin_id
		 JOIN items i ON i.id = pi.item_id
		 WHERE p.status = $1
		 ORDER BY p.id, i.name`,
		model.PinStatusConfirmed,
	)
	if err != nil {
		return nil, fmt.Errorf("集計対象の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []AggregationRow
	for rows.Next() {
		var row AggregationRow
		if err := rows.Scan(&row.PinID, &row.Lat, &row.Lng, &row.ItemName, &row.ItemUnit, &row.RemainingQty); err != nil {
			return nil, fmt.Errorf("集計行のスキャンに失敗しました: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
