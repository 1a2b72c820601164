// Package mail はメール送信キュー、テンプレート、送信手段を提供する。
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/accountman/internal/model"
)

// DefaultQueueKey はキューのデフォルトRedisキー。
const DefaultQueueKey = "accountman:email"

// Queue はRedisを使用したメール送信ジョブのキュー。
//   - <key>         : 送信待ちリスト（LPUSH / BRPOP）
//   - <key>:retry   : 再送予定のソート済み集合（スコアは再送時刻のUnixミリ秒）
//   - <key>:dead    : 再送上限に達したジョブのリスト
type Queue struct {
	rdb *redis.Client
	key string
}

// NewQueue はQueueを生成する。keyが空の場合はDefaultQueueKeyを使用する。
func NewQueue(rdb *redis.Client, key string) *Queue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &Queue{rdb: rdb, key: key}
}

func (q *Queue) retryKey() string { return q.key + ":retry" }
func (q *Queue) deadKey() string  { return q.key + ":dead" }

// Enqueue はジョブを送信待ちリストに追加する。
func (q *Queue) Enqueue(ctx context.Context, job *model.EmailJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode email job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue email job: %w", err)
	}
	return nil
}

// Dequeue は送信待ちジョブを1件取り出す。timeout内にジョブが無ければnil, nilを返す。
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*model.EmailJob, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue email job: %w", err)
	}
	// BRPOPは[key, value]を返す
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}
	return decodeJob(res[1])
}

// ScheduleRetry はジョブをat以降に再送するよう登録する。
func (q *Queue) ScheduleRetry(ctx context.Context, job *model.EmailJob, at time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode email job: %w", err)
	}
	err = q.rdb.ZAdd(ctx, q.retryKey(), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule email retry: %w", err)
	}
	return nil
}

// PromoteDue は再送時刻に達したジョブを送信待ちリストへ戻し、件数を返す。
// ZREMに成功したジョブのみ戻すため、複数ワーカーが同時に呼んでも重複しない。
func (q *Queue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, q.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read due retries: %w", err)
	}

	promoted := 0
	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, q.retryKey(), m).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to claim retry: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.key, m).Err(); err != nil {
			return promoted, fmt.Errorf("failed to requeue retry: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// DeadLetter は再送上限に達したジョブを保管リストへ移す。
func (q *Queue) DeadLetter(ctx context.Context, job *model.EmailJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode email job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.deadKey(), payload).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter email job: %w", err)
	}
	return nil
}

// Stats はキューの各リストの件数を返す。
func (q *Queue) Stats(ctx context.Context) (pending, retrying, dead int64, err error) {
	pipe := q.rdb.Pipeline()
	p := pipe.LLen(ctx, q.key)
	r := pipe.ZCard(ctx, q.retryKey())
	d := pipe.LLen(ctx, q.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return p.Val(), r.Val(), d.Val(), nil
}

// Ping はRedisへの疎通を確認する。
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func decodeJob(payload string) (*model.EmailJob, error) {
	var job model.EmailJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to decode email job: %w", err)
	}
	return &job, nil
}
