package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/promora/beacon/internal/domain"
)

var (
	testRedisURL   string
	redisContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	// Skip container setup if running in short mode
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redisContainer, err = redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
		}
	}()
	os.Exit(m.Run())
}

func setupTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, testRedisURL)
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRelay_PublishReachesSubscriber(t *testing.T) {
	publisher := NewRelay(setupTestClient(t))
	subscriber := NewRelay(setupTestClient(t))

	received := make(chan domain.JobProgressEvent, 1)
	subscriber.Start(context.Background(), func(event domain.JobProgressEvent) {
		received <- event
	})
	t.Cleanup(subscriber.Stop)

	// Give the subscription a moment to register before publishing.
	require.Eventually(t, func() bool {
		err := publisher.Publish(context.Background(), domain.JobProgressEvent{
			JobID:         "job-1",
			Service:       "image_generation",
			Status:        domain.JobSucceeded,
			Progress:      100,
			OwnerClientID: "client-a",
		})
		if err != nil {
			return false
		}
		select {
		case event := <-received:
			assert.Equal(t, "job-1", event.JobID)
			assert.Equal(t, domain.JobSucceeded, event.Status)
			assert.Equal(t, "client-a", event.OwnerClientID)
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
}

func TestRelay_StopEndsSubscription(t *testing.T) {
	relay := NewRelay(setupTestClient(t))

	relay.Start(context.Background(), func(domain.JobProgressEvent) {})
	relay.Stop()

	// Publishing after Stop must not panic or block; nobody is listening.
	err := relay.Publish(context.Background(), domain.JobProgressEvent{
		JobID:         "job-2",
		OwnerClientID: "client-a",
		Status:        domain.JobPending,
	})
	assert.NoError(t, err)
}

func TestRelay_MalformedPayloadIsSkipped(t *testing.T) {
	client := setupTestClient(t)
	relay := NewRelay(client)

	received := make(chan domain.JobProgressEvent, 1)
	relay.Start(context.Background(), func(event domain.JobProgressEvent) {
		received <- event
	})
	t.Cleanup(relay.Stop)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "beacon:job_progress").Result()
		return err == nil && n["beacon:job_progress"] > 0
	}, 5*time.Second, 50*time.Millisecond)

	// Garbage on the channel is logged and dropped, never delivered.
	require.NoError(t, client.Publish(ctx, "beacon:job_progress", "{{{").Err())

	valid := domain.JobProgressEvent{JobID: "job-3", OwnerClientID: "client-a", Status: domain.JobPending}
	require.NoError(t, NewRelay(client).Publish(ctx, valid))

	select {
	case event := <-received:
		assert.Equal(t, "job-3", event.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("valid event was never delivered")
	}
}
