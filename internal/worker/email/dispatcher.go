// Package email はメール送信キューを処理するバックグラウンドワーカーを提供する。
// キューから取り出したジョブをテンプレートで描画して送信し、
// 失敗時は指数バックオフで再送、上限到達でデッドレターへ移す。
package email

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/accountman/internal/mail"
	"github.com/hitoshi/accountman/internal/model"
)

// JobQueue はワーカーが使用するキュー操作。
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*model.EmailJob, error)
	ScheduleRetry(ctx context.Context, job *model.EmailJob, at time.Time) error
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	DeadLetter(ctx context.Context, job *model.EmailJob) error
}

// MessageRenderer はジョブからメッセージを生成する。
type MessageRenderer interface {
	Render(job *model.EmailJob) (*mail.Message, error)
}

// Recorder はメール送信結果を記録する。
type Recorder interface {
	RecordEmail(kind, outcome string)
}

// 送信結果ラベル
const (
	OutcomeSent    = "sent"
	OutcomeRetried = "retried"
	OutcomeDead    = "dead"
)

// Dispatcher はメール送信ジョブの取り出しと並列送信を行う。
// semaphoreパターンで最大並列数を制御する。
type Dispatcher struct {
	queue          JobQueue
	renderer       MessageRenderer
	mailer         mail.Mailer
	logger         *slog.Logger
	recorder       Recorder
	maxConcurrency int
	maxAttempts    int
	now            func() time.Time
}

// NewDispatcher はDispatcherを生成する。
// maxConcurrencyが0以下の場合は4、maxAttemptsが0以下の場合はDefaultMaxAttemptsを使用する。
func NewDispatcher(
	queue JobQueue,
	renderer MessageRenderer,
	mailer mail.Mailer,
	logger *slog.Logger,
	maxConcurrency int,
	maxAttempts int,
) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		queue:          queue,
		renderer:       renderer,
		mailer:         mailer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		maxAttempts:    maxAttempts,
		now:            time.Now,
	}
}

// WithRecorder は送信結果の記録先を設定する。
func (d *Dispatcher) WithRecorder(r Recorder) *Dispatcher {
	d.recorder = r
	return d
}

// Start はコンテキストがキャンセルされるまでキューを処理する。
// pollTimeoutはDequeueの最大待機時間で、再送予定ジョブの昇格間隔も兼ねる。
// 停止時は処理中のジョブの完了を待つ。
func (d *Dispatcher) Start(ctx context.Context, pollTimeout time.Duration) {
	d.logger.Info("メール送信ワーカーを開始しました",
		slog.Int("max_concurrency", d.maxConcurrency),
		slog.Int("max_attempts", d.maxAttempts),
	)

	sem := make(chan struct{}, d.maxConcurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			d.logger.Info("メール送信ワーカーを停止しました")
			return
		}

		if n, err := d.queue.PromoteDue(ctx, d.now()); err != nil {
			d.logger.Error("再送ジョブの昇格に失敗しました", slog.String("error", err.Error()))
		} else if n > 0 {
			d.logger.Info("再送ジョブを送信待ちに戻しました", slog.Int("count", n))
		}

		// semaphore取得（ブロック）
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}

		job, err := d.queue.Dequeue(ctx, pollTimeout)
		if err != nil || job == nil {
			<-sem
			if err != nil && ctx.Err() == nil {
				d.logger.Error("ジョブの取り出しに失敗しました", slog.String("error", err.Error()))
				d.sleep(ctx, pollTimeout)
			}
			continue
		}

		wg.Add(1)
		go func(j *model.EmailJob) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放
			// 停止シグナル後も送信と再送登録を完了させる
			d.Deliver(context.WithoutCancel(ctx), j)
		}(job)
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Deliver はジョブを1件送信し、結果を返す。
// 失敗時は試行回数を増やし、上限未満なら再送を登録、上限に達したらデッドレターへ移す。
func (d *Dispatcher) Deliver(ctx context.Context, job *model.EmailJob) string {
	err := d.send(ctx, job)
	if err == nil {
		d.logger.Info("メールを送信しました",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
			slog.Int("attempts", job.Attempts+1),
		)
		d.record(job.Kind, OutcomeSent)
		return OutcomeSent
	}

	job.Attempts++
	job.LastError = err.Error()

	if job.Attempts >= d.maxAttempts {
		d.logger.Error("メール送信が上限回数に達したためデッドレターへ移します",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
			slog.Int("attempts", job.Attempts),
			slog.String("error", err.Error()),
		)
		if dlErr := d.queue.DeadLetter(ctx, job); dlErr != nil {
			d.logger.Error("デッドレターへの移動に失敗しました",
				slog.String("job_id", job.ID),
				slog.String("error", dlErr.Error()),
			)
		}
		d.record(job.Kind, OutcomeDead)
		return OutcomeDead
	}

	delay := CalculateBackoff(job.Attempts - 1)
	d.logger.Warn("メール送信に失敗したため再送を予約します",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Int("attempts", job.Attempts),
		slog.Duration("retry_in", delay),
		slog.String("error", err.Error()),
	)
	if rErr := d.queue.ScheduleRetry(ctx, job, d.now().Add(delay)); rErr != nil {
		d.logger.Error("再送の予約に失敗しました",
			slog.String("job_id", job.ID),
			slog.String("error", rErr.Error()),
		)
	}
	d.record(job.Kind, OutcomeRetried)
	return OutcomeRetried
}

func (d *Dispatcher) send(ctx context.Context, job *model.EmailJob) error {
	msg, err := d.renderer.Render(job)
	if err != nil {
		return err
	}
	return d.mailer.Send(ctx, msg)
}

func (d *Dispatcher) record(kind model.EmailKind, outcome string) {
	if d.recorder != nil {
		d.recorder.RecordEmail(string(kind), outcome)
	}
}
