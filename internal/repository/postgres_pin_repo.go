package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/kyuen/internal/model"
)

// PostgresPinRepo はPostgreSQLを使用した救援要請リポジトリ。
type PostgresPinRepo struct {
	db *sql.DB
}

// NewPostgresPinRepo はPostgresPinRepoを生成する。
func NewPostgresPinRepo(db *sql.DB) *PostgresPinRepo {
	return &PostgresPinRepo{db: db}
}

// Create はPinを作成する。
func (r *PostgresPinRepo) Create(ctx context.Context, pin *model.Pin) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pins (id, kind, status, phone, description, lat, lng, reporter_id, image_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		pin.ID, pin.Kind, pin.Status, pin.Phone, pin.Description,
		pin.Lat, pin.Lng, pin.ReporterID, pin.ImageURL, pin.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("救援要請の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのPinを取得する。見つからない場合はnilを返す。
func (r *PostgresPinRepo) FindByID(ctx context.Context, id string) (*model.Pin, error) {
	pin := &model.Pin{}
	var confirmedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, kind, status, phone, description, lat, lng, reporter_id, image_url,
		        confirmed_membership_id, confirmed_at, created_at, updated_at
		 FROM pins WHERE id = $1`,
		id,
	).Scan(
		&pin.ID, &pin.Kind, &pin.Status, &pin.Phone, &pin.Description,
		&pin.Lat, &pin.Lng, &pin.ReporterID, &pin.ImageURL,
		&pin.ConfirmedMembershipID, &confirmedAt, &pin.CreatedAt, &pin.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("救援要請の取得に失敗しました: %w", err)
	}

	if confirmedAt.Valid {
		pin.ConfirmedAt = &confirmedAt.Time
	}

	return pin, nil
}

// FindWithItems は指定Pinをラインアイテム（カタログ情報付き）ごと取得する。
func (r *PostgresPinRepo) FindWithItems(ctx context.Context, id string) (*PinWithItems, error) {
	pin, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pin == nil {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT pi.id, pi.pin_id, pi.item_id, pi.requested_qty, pi.remaining_qty,
		        pi.created_at, pi.updated_at, i.name, i.unit
		 FROM pin_items pi
		 JOIN items i ON i.id = pi.item_id
		 WHERE pi.pin_id = $1
		 ORDER BY pi.created_at`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("ラインアイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	result := &PinWithItems{Pin: *pin}
	for rows.Next() {
		var pi model.PinItemWithName
		if err := rows.Scan(
			&pi.ID, &pi.PinID, &pi.ItemID, &pi.RequestedQty, &pi.RemainingQty,
			&pi.CreatedAt, &pi.UpdatedAt, &pi.ItemName, &pi.ItemUnit,
		); err != nil {
			return nil, fmt.Errorf("ラインアイテムのスキャンに失敗しました: %w", err)
		}
		result.Items = append(result.Items, pi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ラインアイテム一覧の読み取りに失敗しました: %w", err)
	}
	return result, nil
}

// Confirm はpending状態のPinをconfirmedに遷移させる。
// WHERE句でstatus='pending'を条件にすることで、並行する確認操作が
// あっても遷移は高々1回しか起きない。更新が起きた場合にtrueを返す。
func (r *PostgresPinRepo) Confirm(ctx context.Context, pinID, membershipID string, confirmedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pins
		 SET status = $1, confirmed_membership_id = $2, confirmed_at = $3, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		model.PinStatusConfirmed, membershipID, confirmedAt, pinID, model.PinStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("救援要請の確認遷移に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// Delete はPin本体のみを削除する。対象が存在しなくてもエラーにしない（冪等）。
func (r *PostgresPinRepo) Delete(ctx context.Context, pinID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pins WHERE id = $1`, pinID); err != nil {
		return fmt.Errorf("救援要請の削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteWithItems はPinの全ラインアイテムを削除した後、Pin本体を削除する。
// アイテム→親の順序は必須。単一トランザクションで実行するため、
// 読み取り側が「アイテムだけ消えたPin」を観測することはない。
func (r *PostgresPinRepo) DeleteWithItems(ctx context.Context, pinID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("完了削除トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	// 1. ラインアイテムを先に削除する
	if _, err := tx.ExecContext(ctx, `DELETE FROM pin_items WHERE pin_id = $1`, pinID); err != nil {
		return fmt.Errorf("ラインアイテムの削除に失敗しました: %w", err)
	}

	// 2. Pin本体を削除する
	if _, err := tx.ExecContext(ctx, `DELETE FROM pins WHERE id = $1`, pinID); err != nil {
		return fmt.Errorf("救援要請の削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("完了削除のコミットに失敗しました: %w", err)
	}
	return nil
}

// ListWithItems はPinの一覧をラインアイテム付きでcreated_at降順で返す。
func (r *PostgresPinRepo) ListWithItems(ctx context.Context, status *model.PinStatus) ([]PinWithItems, error) {
	query := `SELECT id, kind, status, phone, description, lat, lng, reporter_id, image_url,
	                 confirmed_membership_id, confirmed_at, created_at, updated_at
	          FROM pins`
	var args []any
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("救援要請一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var pins []PinWithItems
	var pinIDs []string
	for rows.Next() {
		var p PinWithItems
		var confirmedAt sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.Kind, &p.Status, &p.Phone, &p.Description,
			&p.Lat, &p.Lng, &p.ReporterID, &p.ImageURL,
			&p.ConfirmedMembershipID, &confirmedAt, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("救援要請のスキャンに失敗しました: %w", err)
		}
		if confirmedAt.Valid {
			p.ConfirmedAt = &confirmedAt.Time
		}
		pins = append(pins, p)
		pinIDs = append(pinIDs, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("救援要請一覧の読み取りに失敗しました: %w", err)
	}

	if len(pins) == 0 {
		return pins, nil
	}

	// ラインアイテムをまとめて取得してPinごとに振り分ける
	itemRows, err := r.db.QueryContext(ctx,
		`SELECT pi.id, pi.pin_id, pi.item_id, pi.requested_qty, pi.remaining_qty,
		        pi.created_at, pi.updated_at, i.name, i.unit
		 FROM pin_items pi
		 JOIN items i ON i.id = pi.item_id
		 WHERE pi.pin_id = ANY($1)
		 ORDER BY pi.created_at`,
		pq.Array(pinIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("ラインアイテム一覧の取得に失敗しました: %w", err)
	}
	defer itemRows.Close()

	itemsByPin := make(map[string][]model.PinItemWithName)
	for itemRows.Next() {
		var pi model.PinItemWithName
		if err := itemRows.Scan(
			&pi.ID, &pi.PinID, &pi.ItemID, &pi.RequestedQty, &pi.RemainingQty,
			&pi.CreatedAt, &pi.UpdatedAt, &pi.ItemName, &pi.ItemUnit,
		); err != nil {
			return nil, fmt.Errorf("ラインアイテムのスキャンに失敗しました: %w", err)
		}
		itemsByPin[pi.PinID] = append(itemsByPin[pi.PinID], pi)
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("ラインアイテム一覧の読み取りに失敗しました: %w", err)
	}

	for i := range pins {
		pins[i].Items = itemsByPin[pins[i].ID]
	}

	return pins, nil
}

// ListReconcileCandidates は完了処理の再確認が必要なPinのIDを返す。
// 残数が全て0のラインアイテムを持つPinは即時対象。ラインアイテムを
// 1件も持たないPinは、作成直後の正常なPinと区別できないため
// orphanGraceより古いものだけを対象にする。
func (r *PostgresPinRepo) ListReconcileCandidates(ctx context.Context, orphanGrace time.Duration) ([]string, error) {
	grace := fmt.Sprintf("%d seconds", int(orphanGrace.Seconds()))

	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id
		 FROM pins p
		 WHERE (
		     EXISTS (SELECT 1 FROM pin_items pi WHERE pi.pin_id = p.id)
		     AND NOT EXISTS (SELECT 1 FROM pin_items pi WHERE pi.pin_id = p.id AND pi.remaining_qty > 0)
		 ) OR (
		     NOT EXISTS (SELECT 1 FROM pin_items pi WHERE pi.pin_id = p.id)
		     AND p.created_at < now() - $1::interval
		     AND p.confirmed_at IS NOT NULL
		 )
		 ORDER BY p.created_at`,
		grace,
	)
	if err != nil {
		return nil, fmt.Errorf("再確認対象の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("再確認対象のスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
