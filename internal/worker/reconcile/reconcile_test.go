package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/kyuen/internal/model"
	"github.com/hitoshi/kyuen/internal/repository"
)

// mockPinRepo は候補一覧だけを返すPinRepositoryのモック。
type mockPinRepo struct {
	candidates []string
	err        error
	gotGrace   time.Duration
}

func (m *mockPinRepo) Create(ctx context.Context, pin *model.Pin) error { return nil }

func (m *mockPinRepo) FindByID(ctx context.Context, id string) (*model.Pin, error) {
	return nil, nil
}

func (m *mockPinRepo) FindWithItems(ctx context.Context, id string) (*repository.PinWithItems, error) {
	return nil, nil
}

func (m *mockPinRepo) Confirm(ctx context.Context, pinID, membershipID string, confirmedAt time.Time) (bool, error) {
	return false, nil
}

func (m *mockPinRepo) Delete(ctx context.Context, pinID string) error { return nil }

func (m *mockPinRepo) DeleteWithItems(ctx context.Context, pinID string) error { return nil }

func (m *mockPinRepo) ListWithItems(ctx context.Context, status *model.PinStatus) ([]repository.PinWithItems, error) {
	return nil, nil
}

func (m *mockPinRepo) ListReconcileCandidates(ctx context.Context, orphanGrace time.Duration) ([]string, error) {
	m.gotGrace = orphanGrace
	return m.candidates, m.err
}

// mockReconciler はReconcile呼び出しを記録するモック。
type mockReconciler struct {
	healedPins map[string]bool
	errPins    map[string]error
	calls      []string
}

func (m *mockReconciler) Reconcile(ctx context.Context, pinID string) (bool, error) {
	m.calls = append(m.calls, pinID)
	if err, ok := m.errPins[pinID]; ok {
		return false, err
	}
	return m.healedPins[pinID], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestRunOnce_ReconcilesAllCandidates は全候補に対して回復処理が
// 呼ばれることを検証する。
func TestRunOnce_ReconcilesAllCandidates(t *testing.T) {
	pinRepo := &mockPinRepo{candidates: []string{"pin-1", "pin-2", "pin-3"}}
	reconciler := &mockReconciler{
		healedPins: map[string]bool{"pin-1": true, "pin-3": true},
	}
	job := NewJob(pinRepo, reconciler, testLogger(), DefaultJobConfig())

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(reconciler.calls) != 3 {
		t.Errorf("reconciled %d pins, want 3", len(reconciler.calls))
	}
	if pinRepo.gotGrace != time.Hour {
		t.Errorf("orphan grace = %v, want %v", pinRepo.gotGrace, time.Hour)
	}
}

// TestRunOnce_ContinuesAfterPinFailure は1件の失敗がサイクル全体を
// 止めないことを検証する。
func TestRunOnce_ContinuesAfterPinFailure(t *testing.T) {
	pinRepo := &mockPinRepo{candidates: []string{"pin-1", "pin-2", "pin-3"}}
	reconciler := &mockReconciler{
		errPins: map[string]error{"pin-2": errors.New("deadlock detected")},
	}
	job := NewJob(pinRepo, reconciler, testLogger(), DefaultJobConfig())

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(reconciler.calls) != 3 {
		t.Errorf("reconciled %d pins, want 3 (should continue past failures)", len(reconciler.calls))
	}
}

// TestRunOnce_NoCandidates は候補なしの場合に何もせず正常終了することを検証する。
func TestRunOnce_NoCandidates(t *testing.T) {
	pinRepo := &mockPinRepo{}
	reconciler := &mockReconciler{}
	job := NewJob(pinRepo, reconciler, testLogger(), DefaultJobConfig())

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(reconciler.calls) != 0 {
		t.Errorf("reconciled %d pins, want 0", len(reconciler.calls))
	}
}

// TestRunOnce_ListFailure は候補取得の失敗がエラーとして返ることを検証する。
func TestRunOnce_ListFailure(t *testing.T) {
	pinRepo := &mockPinRepo{err: errors.New("db down")}
	job := NewJob(pinRepo, &mockReconciler{}, testLogger(), DefaultJobConfig())

	if err := job.RunOnce(context.Background()); err == nil {
		t.Error("RunOnce = nil error, want error")
	}
}

// TestStart_StopsOnContextCancel はコンテキストのキャンセルで
// ジョブが停止することを検証する。
func TestStart_StopsOnContextCancel(t *testing.T) {
	pinRepo := &mockPinRepo{}
	job := NewJob(pinRepo, &mockReconciler{}, testLogger(), JobConfig{
		Interval:    10 * time.Millisecond,
		OrphanGrace: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Start did not stop after context cancellation")
	}
}

// TestNewJob_AppliesDefaults は不正な設定値にデフォルトが適用されることを検証する。
func TestNewJob_AppliesDefaults(t *testing.T) {
	job := NewJob(&mockPinRepo{}, &mockReconciler{}, testLogger(), JobConfig{})
	if job.config.Interval != 10*time.Minute {
		t.Errorf("interval = %v, want %v", job.config.Interval, 10*time.Minute)
	}
	if job.config.OrphanGrace != time.Hour {
		t.Errorf("orphan grace = %v, want %v", job.config.OrphanGrace, time.Hour)
	}
}

// インターフェース適合の確認
var _ repository.PinRepository = (*mockPinRepo)(nil)
