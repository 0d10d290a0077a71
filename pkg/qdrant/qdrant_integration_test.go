package qdrant

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/Aleph-Alpha/mediaindex/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// setupQdrantContainer starts Qdrant and returns a config pointing at its gRPC port.
func setupQdrantContainer(t *testing.T) Config {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "qdrant/qdrant:v1.12.4",
		ExposedPorts: []string{"6334/tcp"},
		WaitingFor:   wait.ForListeningPort("6334/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, "6334")
	require.NoError(t, err)
	port, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)

	require.NoError(t, waitForQdrantReady(host, mapped.Port(), 30*time.Second))

	return Config{
		Endpoint:   host,
		Port:       port,
		Collection: "media_test",
		Timeout:    10 * time.Second,
	}
}

func waitForQdrantReady(host, port string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 2*time.Second)
		if err == nil {
			_ = conn.Close()
			time.Sleep(2 * time.Second)
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for qdrant after %s", timeout)
}

func TestQdrantWithFXModule(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := setupQdrantContainer(t)
	ctx := context.Background()

	var client *Client
	app := fxtest.New(t,
		fx.Provide(
			func() Config { return cfg },
			func() Logger { return logger.NewNop() },
		),
		FXModule,
		fx.Populate(&client),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, client)
	require.NoError(t, client.HealthCheck(ctx))

	t.Run("EnsureCollectionChecksDimension", func(t *testing.T) {
		require.NoError(t, client.EnsureCollection(ctx, 4))
		require.NoError(t, client.EnsureCollection(ctx, 4))

		err := client.EnsureCollection(ctx, 8)
		assert.ErrorIs(t, err, ErrDimensionMismatch)

		size, err := client.VectorSize(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, size)
	})

	red := uuid.NewString()
	blue := uuid.NewString()

	t.Run("UpsertAndQuery", func(t *testing.T) {
		require.NoError(t, client.Upsert(ctx,
			Point{ID: red, Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"media_id": red, "model_version": "v1", "indexed_at": int64(100)}},
			Point{ID: blue, Vector: []float32{0, 1, 0, 0}, Payload: map[string]any{"media_id": blue, "model_version": "v1", "indexed_at": int64(200)}},
		))

		hits, err := client.Query(ctx, []float32{0.9, 0.1, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, red, hits[0].ID)
		assert.Greater(t, hits[0].Score, hits[1].Score)
		assert.Equal(t, "v1", StringValue(hits[0].Payload, "model_version"))
		assert.Equal(t, int64(100), IntValue(hits[0].Payload, "indexed_at"))

		n, err := client.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)
	})

	t.Run("ScrollPages", func(t *testing.T) {
		ids := map[string]bool{}
		for i := 0; i < 5; i++ {
			id := uuid.NewString()
			ids[id] = true
			require.NoError(t, client.Upsert(ctx, Point{ID: id, Vector: []float32{0, 0, 1, float32(i)}}))
		}
		ids[red], ids[blue] = true, true

		seen := map[string]bool{}
		cursor := ""
		pages := 0
		for {
			page, next, err := client.Scroll(ctx, cursor, 3)
			require.NoError(t, err)
			for _, p := range page {
				assert.False(t, seen[p.ID], "duplicate %s", p.ID)
				seen[p.ID] = true
			}
			pages++
			if next == "" {
				break
			}
			cursor = next
		}
		assert.Equal(t, ids, seen)
		assert.GreaterOrEqual(t, pages, 3)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, client.Delete(ctx, red, uuid.NewString()))
		hits, err := client.Query(ctx, []float32{1, 0, 0, 0}, 10)
		require.NoError(t, err)
		for _, h := range hits {
			assert.NotEqual(t, red, h.ID)
		}
	})
}

func TestExtractVectorDetailsHandlesNil(t *testing.T) {
	size, distance := extractVectorDetails(nil)
	assert.Zero(t, size)
	assert.Empty(t, distance)
}
