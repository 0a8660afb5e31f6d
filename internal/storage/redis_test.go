package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("LEVELWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEVELWATCH_TEST_REDIS_ADDR 未设置, 跳过 Redis 测试")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("连接 Redis 失败: %v", err)
	}
	prefix := "levelwatch_test_" + uuid.NewString()
	store := NewRedisStore(client, prefix)
	t.Cleanup(func() {
		client.Del(context.Background(), store.levelsKey(), store.updatedKey())
		_ = store.Close()
	})

	if _, ok, err := store.GetLastLevel(ctx, "btc"); err != nil || ok {
		t.Fatalf("空存储不应有档位: ok=%v err=%v", ok, err)
	}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SetLastLevel(ctx, "btc", 91000, at); err != nil {
		t.Fatalf("SetLastLevel: %v", err)
	}
	if err := store.SetLastLevel(ctx, "btc_eth", 35.5, at); err != nil {
		t.Fatalf("SetLastLevel: %v", err)
	}

	got, ok, err := store.GetLastLevel(ctx, "btc_eth")
	if err != nil || !ok || got != 35.5 {
		t.Fatalf("读回档位错误: got %v ok=%v err=%v", got, ok, err)
	}

	records, err := store.ListLevels(ctx)
	if err != nil {
		t.Fatalf("ListLevels: %v", err)
	}
	if len(records) != 2 || records[0].Metric != "btc" || records[1].Level != 35.5 || !records[0].UpdatedAt.Equal(at) {
		t.Fatalf("档位列表错误: %+v", records)
	}

	if err := store.DeleteLevel(ctx, "btc"); err != nil {
		t.Fatalf("DeleteLevel: %v", err)
	}
	if _, ok, _ := store.GetLastLevel(ctx, "btc"); ok {
		t.Fatal("删除后不应再有档位")
	}
	if n, _ := client.HLen(ctx, store.updatedKey()).Result(); n != 1 {
		t.Fatalf("更新时间应同步删除, 剩余 %d", n)
	}
}

func TestRedisStoreUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	store := NewRedisStore(client, "")
	defer store.Close()
	ctx := context.Background()

	_, _, err := store.GetLastLevel(ctx, "btc")
	var storeErr *Error
	if !errors.As(err, &storeErr) || storeErr.Op != "get level" || storeErr.Metric != "btc" {
		t.Fatalf("连接失败应返回 *storage.Error, 实际 %v", err)
	}
	if err := store.SetLastLevel(ctx, "btc", 91000, time.Now()); !errors.As(err, &storeErr) || storeErr.Op != "set level" {
		t.Fatalf("写入失败应返回 *storage.Error, 实际 %v", err)
	}
}
