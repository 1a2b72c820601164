package mail

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/accountman/internal/model"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewQueue(rdb, "test:email"), mr
}

func testJob(id string) *model.EmailJob {
	return &model.EmailJob{
		ID:         id,
		Kind:       model.EmailKindVerification,
		To:         "user@example.com",
		Token:      "tok-" + id,
		EnqueuedAt: time.Now().UTC(),
	}
}

// 投入した順に取り出されること
func TestQueue_EnqueueDequeue_FIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if err := q.Enqueue(ctx, testJob(id)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	for _, want := range []string{"1", "2", "3"} {
		job, err := q.Dequeue(ctx, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if job == nil || job.ID != want {
			t.Fatalf("Dequeue() = %+v, want ID %s", job, want)
		}
		if job.Token != "tok-"+want {
			t.Errorf("Token = %q, want tok-%s", job.Token, want)
		}
	}
}

// 空のキューはタイムアウト後にnilを返すこと
func TestQueue_Dequeue_Empty(t *testing.T) {
	q, _ := newTestQueue(t)
	job, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if job != nil {
		t.Errorf("Dequeue() = %+v, want nil", job)
	}
}

// 再送時刻に達したジョブのみ送信待ちに戻ること
func TestQueue_ScheduleRetryAndPromote(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	due := testJob("due")
	due.Attempts = 1
	if err := q.ScheduleRetry(ctx, due, now.Add(-time.Second)); err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}
	if err := q.ScheduleRetry(ctx, testJob("later"), now.Add(time.Hour)); err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}

	n, err := q.PromoteDue(ctx, now)
	if err != nil {
		t.Fatalf("PromoteDue() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("PromoteDue() = %d, want 1", n)
	}

	job, _ := q.Dequeue(ctx, 50*time.Millisecond)
	if job == nil || job.ID != "due" || job.Attempts != 1 {
		t.Errorf("Dequeue() = %+v, want due job with attempts=1", job)
	}

	pending, retrying, dead, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if pending != 0 || retrying != 1 || dead != 0 {
		t.Errorf("Stats() = %d/%d/%d, want 0/1/0", pending, retrying, dead)
	}
}

// デッドレターに移したジョブが件数に反映されること
func TestQueue_DeadLetter(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	if err := q.DeadLetter(ctx, testJob("x")); err != nil {
		t.Fatalf("DeadLetter() error = %v", err)
	}
	_, _, dead, _ := q.Stats(ctx)
	if dead != 1 {
		t.Errorf("dead = %d, want 1", dead)
	}
	if !mr.Exists("test:email:dead") {
		t.Error("dead-letter key should exist")
	}
}

// Redis停止時はエラーを返すこと
func TestQueue_Enqueue_RedisDown(t *testing.T) {
	q, mr := newTestQueue(t)
	mr.Close()

	if err := q.Enqueue(context.Background(), testJob("1")); err == nil {
		t.Error("expected error when redis is down")
	}
	if err := q.Ping(context.Background()); err == nil {
		t.Error("expected Ping error when redis is down")
	}
}
