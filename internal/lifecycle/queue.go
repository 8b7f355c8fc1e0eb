package lifecycle

import (
	"container/heap"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"moviezone-tg-bot/internal/apperr"
)

// TimedQueue holds timed deletions ordered by deadline. PopDue removes and
// returns up to limit entries whose deadline is not after now; an entry is
// returned by exactly one PopDue call.
type TimedQueue interface {
	Push(ctx context.Context, d ScheduledDeletion) error
	PopDue(ctx context.Context, now time.Time, limit int) ([]ScheduledDeletion, error)
	Len(ctx context.Context) (int, error)
}

type deadlineHeap []ScheduledDeletion

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].DeleteAt.Before(h[j].DeleteAt) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)        { *h = append(*h, x.(ScheduledDeletion)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// MemoryQueue keeps deadlines in process. Entries are lost on restart.
type MemoryQueue struct {
	mu sync.Mutex
	h  deadlineHeap
}

func NewMemoryQueue() *MemoryQueue { return &MemoryQueue{} }

func (q *MemoryQueue) Push(_ context.Context, d ScheduledDeletion) error {
	q.mu.Lock()
	heap.Push(&q.h, d)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) PopDue(_ context.Context, now time.Time, limit int) ([]ScheduledDeletion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []ScheduledDeletion
	for q.h.Len() > 0 && !q.h[0].DeleteAt.After(now) {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, heap.Pop(&q.h).(ScheduledDeletion))
	}
	return out, nil
}

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len(), nil
}

// RedisQueue stores deadlines in a sorted set scored by unix milliseconds so
// scheduled deletions survive restarts. Several replicas may sweep the same
// key: ZREM decides which one owns an entry.
type RedisQueue struct {
	rdb    redis.Cmdable
	key    string
	logger hclog.Logger
}

func NewRedisQueue(rdb redis.Cmdable, key string, logger hclog.Logger) *RedisQueue {
	if key == "" {
		key = "moviezone:deletions"
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RedisQueue{rdb: rdb, key: key, logger: logger.Named("deletions")}
}

func encodeMember(ref MessageRef) string {
	return fmt.Sprintf("%d:%d", ref.ChatID, ref.MessageID)
}

func decodeMember(member string) (MessageRef, error) {
	chat, msg, ok := strings.Cut(member, ":")
	if !ok {
		return MessageRef{}, fmt.Errorf("malformed member %q", member)
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return MessageRef{}, fmt.Errorf("malformed member %q: %w", member, err)
	}
	messageID, err := strconv.Atoi(msg)
	if err != nil {
		return MessageRef{}, fmt.Errorf("malformed member %q: %w", member, err)
	}
	return MessageRef{ChatID: chatID, MessageID: messageID}, nil
}

func (q *RedisQueue) Push(ctx context.Context, d ScheduledDeletion) error {
	z := redis.Z{Score: float64(d.DeleteAt.UnixMilli()), Member: encodeMember(d.Ref)}
	if err := q.rdb.ZAdd(ctx, q.key, z).Err(); err != nil {
		return apperr.Store("queue_push", err)
	}
	return nil
}

func (q *RedisQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]ScheduledDeletion, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	due, err := q.rdb.ZRangeByScoreWithScores(ctx, q.key, by).Result()
	if err != nil {
		return nil, apperr.Store("queue_pop", err)
	}
	out := make([]ScheduledDeletion, 0, len(due))
	for _, z := range due {
		member, _ := z.Member.(string)
		removed, err := q.rdb.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return out, apperr.Store("queue_pop", err)
		}
		if removed == 0 {
			continue
		}
		ref, err := decodeMember(member)
		if err != nil {
			q.logger.Warn("dropping unreadable scheduled deletion", "member", member, "error", err)
			continue
		}
		out = append(out, ScheduledDeletion{
			Ref:      ref,
			DeleteAt: time.UnixMilli(int64(z.Score)),
			Policy:   PolicyTimed,
		})
	}
	return out, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, apperr.Store("queue_len", err)
	}
	return int(n), nil
}
