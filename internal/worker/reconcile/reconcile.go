// Package reconcile は完了処理の自動回復ジョブを提供する。
// 完了削除の失敗で残った「充足済みなのに存在するPin」と、
// ラインアイテムだけ消えた中間状態のPinを定期的に掃き出す。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/kyuen/internal/repository"
)

// Reconciler は1件のPinの完了状態を再確認するインターフェース。
// fulfillmentサービスが実装する。
type Reconciler interface {
	Reconcile(ctx context.Context, pinID string) (bool, error)
}

// JobConfig は回復ジョブの設定パラメータ。
type JobConfig struct {
	// Interval はジョブの実行間隔（デフォルト: 10分）。
	Interval time.Duration
	// OrphanGrace はラインアイテムを持たないPinを対象に含めるまでの猶予。
	// 作成直後のラインアイテム未登録Pinを誤って削除しないための保護（デフォルト: 1時間）。
	OrphanGrace time.Duration
}

// DefaultJobConfig はデフォルトのジョブ設定を返す。
func DefaultJobConfig() JobConfig {
	return JobConfig{
		Interval:    10 * time.Minute,
		OrphanGrace: time.Hour,
	}
}

// Job は完了処理の自動回復ジョブ。
// 定期実行のバッチジョブとして設計されており、各Pinへの処理は冪等。
type Job struct {
	pinRepo    repository.PinRepository
	reconciler Reconciler
	logger     *slog.Logger
	config     JobConfig
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(
	pinRepo repository.PinRepository,
	reconciler Reconciler,
	logger *slog.Logger,
	config JobConfig,
) *Job {
	if config.Interval <= 0 {
		config.Interval = DefaultJobConfig().Interval
	}
	if config.OrphanGrace <= 0 {
		config.OrphanGrace = DefaultJobConfig().OrphanGrace
	}
	return &Job{
		pinRepo:    pinRepo,
		reconciler: reconciler,
		logger:     logger,
		config:     config,
	}
}

// Start は回復ジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.logger.Info("完了回復ジョブを開始しました",
		slog.Duration("interval", j.config.Interval),
		slog.Duration("orphan_grace", j.config.OrphanGrace),
	)

	// 起動直後に1回実行
	if err := j.RunOnce(ctx); err != nil {
		j.logger.Error("完了回復サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("完了回復ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("完了回復サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は1回の回復サイクルを実行する。
// 対象候補を取得し、1件ずつ完了状態を再確認する。
// 個々のPinの失敗は記録して続行し、サイクル全体は止めない。
func (j *Job) RunOnce(ctx context.Context) error {
	start := time.Now()

	candidates, err := j.pinRepo.ListReconcileCandidates(ctx, j.config.OrphanGrace)
	if err != nil {
		return fmt.Errorf("回復対象の取得に失敗しました: %w", err)
	}

	if len(candidates) == 0 {
		j.logger.Info("完了回復の対象はありません")
		return nil
	}

	var healedCount, failedCount int
	for _, pinID := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		healed, err := j.reconciler.Reconcile(ctx, pinID)
		if err != nil {
			failedCount++
			j.logger.Error("完了回復に失敗しました",
				slog.String("pin_id", pinID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if healed {
			healedCount++
		}
	}

	duration := time.Since(start)
	j.logger.Info("完了回復サイクルが完了しました",
		slog.Int("candidates", len(candidates)),
		slog.Int("healed", healedCount),
		slog.Int("failed", failedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
