package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// hourField - формат поля часа в hash
const hourField = "2006010215"

// Redis хранит дельты в hash по процессу и цели.
//
// Redis-ключи:
//
//	HINCRBY bridgestation:ledger:<pid>:<target>  <YYYYMMDDHH>  <count>
//	PUBLISH bridgestation:ledger:<pid>           <JSON delta>   — для подписчиков
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	publish bool
}

// RedisOption настраивает Redis ledger
type RedisOption func(*Redis)

// WithPrefix меняет префикс ключей (по умолчанию "bridgestation:ledger")
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithPublish включает публикацию каждой дельты в канал процесса
func WithPublish() RedisOption {
	return func(r *Redis) { r.publish = true }
}

// NewRedis создает ledger поверх готового клиента
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "bridgestation:ledger"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis подключается к Redis и проверяет соединение
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ledger: redis ping %s: %w", addr, err)
	}
	return NewRedis(client, opts...), nil
}

func (r *Redis) key(processID int64, target Target) string {
	return fmt.Sprintf("%s:%d:%s", r.prefix, processID, target)
}

type deltaEvent struct {
	ProcessID int64     `json:"process_id"`
	Target    Target    `json:"target"`
	Hour      time.Time `json:"hour"`
	Count     int64     `json:"count"`
}

func (r *Redis) Add(ctx context.Context, d Delta) error {
	hour := d.Hour()
	if err := r.client.HIncrBy(ctx, r.key(d.ProcessID, d.Target), hour.Format(hourField), d.Count).Err(); err != nil {
		return fmt.Errorf("ledger: redis HINCRBY failed: %w", err)
	}
	if !r.publish {
		return nil
	}

	payload, err := json.Marshal(deltaEvent{ProcessID: d.ProcessID, Target: d.Target, Hour: hour, Count: d.Count})
	if err != nil {
		return fmt.Errorf("ledger: marshal delta: %w", err)
	}
	channel := fmt.Sprintf("%s:%d", r.prefix, d.ProcessID)
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("ledger: redis PUBLISH failed: %w", err)
	}
	return nil
}

// Hours возвращает почасовые суммы процесса по цели
func (r *Redis) Hours(ctx context.Context, processID int64, target Target) (map[time.Time]int64, error) {
	fields, err := r.client.HGetAll(ctx, r.key(processID, target)).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger: redis HGETALL failed: %w", err)
	}
	out := make(map[time.Time]int64, len(fields))
	for f, v := range fields {
		h, err := time.ParseInLocation(hourField, f, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("ledger: bad hour field %q: %w", f, err)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger: bad count %q: %w", v, err)
		}
		out[h] = n
	}
	return out, nil
}

// Total возвращает сумму дельт процесса по цели
func (r *Redis) Total(ctx context.Context, processID int64, target Target) (int64, error) {
	hours, err := r.Hours(ctx, processID, target)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range hours {
		total += n
	}
	return total, nil
}

// Close закрывает соединение с Redis
func (r *Redis) Close() error {
	return r.client.Close()
}
