package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestEncode(t *testing.T) {
	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	raw, err := encode(TypeListEntryUpserted, ListEntryUpsertedPayload{
		UserID: 7, ItemID: "21", Status: "watching", Created: true, UpdatedAt: at,
	})
	require.NoError(t, err)

	var e Event
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, TypeListEntryUpserted, e.Type)

	var p ListEntryUpsertedPayload
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	assert.Equal(t, int64(7), p.UserID)
	assert.Equal(t, "21", p.ItemID)
	assert.True(t, p.Created)
	assert.True(t, at.Equal(p.UpdatedAt))
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.PublishListEntryUpserted(context.Background(), ListEntryUpsertedPayload{}))
}

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestPublishSubscribe(t *testing.T) {
	rdb := startRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan Event, 8)
	done := make(chan error, 1)
	go func() {
		done <- Subscribe(ctx, rdb, "", func(_ context.Context, e Event) {
			received <- e
		})
	}()

	pub := NewRedisPublisher(rdb, "")
	payload := ListEntryUpsertedPayload{UserID: 1, ItemID: "5114", Status: "completed"}

	// The subscription may not be confirmed yet, so publish until it lands.
	var got Event
	require.Eventually(t, func() bool {
		assert.NoError(t, pub.PublishListEntryUpserted(context.Background(), payload))
		select {
		case got = <-received:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)

	assert.Equal(t, TypeListEntryUpserted, got.Type)
	var p ListEntryUpsertedPayload
	require.NoError(t, json.Unmarshal(got.Payload, &p))
	assert.Equal(t, "5114", p.ItemID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop after cancel")
	}
}
