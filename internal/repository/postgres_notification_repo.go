package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kyuen/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// CreateBatch は複数の通知を単一トランザクションで挿入する。
// ファンアウトは受信者数が多くなり得るため、1文ずつのラウンドトリップを
// 避けてプリペアドステートメントで連続挿入する。
func (r *PostgresNotificationRepo) CreateBatch(ctx context.Context, notifications []*model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("通知挿入トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO notifications (id, recipient_id, type, title, body, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	)
	if err != nil {
		return fmt.Errorf("通知挿入文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	for _, n := range notifications {
		if _, err := stmt.ExecContext(ctx,
			n.ID, n.RecipientID, n.Type, n.Title, n.Body, n.Payload, n.CreatedAt,
		); err != nil {
			return fmt.Errorf("通知の挿入に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("通知挿入のコミットに失敗しました: %w", err)
	}
	return nil
}
