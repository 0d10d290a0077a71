package vectorindex

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/pkg/logger"
	"github.com/Aleph-Alpha/mediaindex/pkg/postgres"
	"github.com/Aleph-Alpha/mediaindex/pkg/qdrant"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest) (string, func(port string) string) {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	return host, func(port string) string {
		p, err := c.MappedPort(ctx, nat.Port(port))
		require.NoError(t, err)
		return p.Port()
	}
}

// exerciseIndex runs the behaviour every backend must share.
func exerciseIndex(t *testing.T, idx Index) {
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx, 3))
	require.NoError(t, idx.EnsureCollection(ctx, 3))

	now := time.Unix(1717243200, 0).UTC()
	red, blue, green := uuid.NewString(), uuid.NewString(), uuid.NewString()
	for id, vec := range map[string][]float32{
		red:   {1, 0, 0},
		blue:  {0, 1, 0},
		green: {0, 0, 1},
	} {
		require.NoError(t, idx.Upsert(ctx, media.EmbeddingEntry{
			MediaID: id, OwnerID: "u1", Vector: vec, ModelVersion: "v1", IndexedAt: now,
		}))
	}

	// Re-upserting replaces the entry rather than adding a second one.
	require.NoError(t, idx.Upsert(ctx, media.EmbeddingEntry{
		MediaID: red, OwnerID: "u1", Vector: []float32{1, 0.1, 0}, ModelVersion: "v2", IndexedAt: now,
	}))

	matches, err := idx.QueryTopK(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, red, matches[0].MediaID)
	assert.InDelta(t, 0.995, matches[0].Cosine, 0.01)
	assert.InDelta(t, 0.0, matches[1].Cosine, 0.11)

	var all []media.EntryInfo
	cursor := ""
	for {
		page, next, err := idx.Scan(ctx, cursor, 2)
		require.NoError(t, err)
		all = append(all, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	require.Len(t, all, 3)
	versions := map[string]string{}
	for _, e := range all {
		versions[e.MediaID] = e.ModelVersion
		assert.True(t, now.Equal(e.IndexedAt), "indexed_at %s", e.IndexedAt)
	}
	assert.Equal(t, "v2", versions[red])
	assert.Equal(t, "v1", versions[blue])

	require.NoError(t, idx.Delete(ctx, red, uuid.NewString()))
	matches, err = idx.QueryTopK(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.MediaID)
	}
	sort.Strings(ids)
	want := []string{blue, green}
	sort.Strings(want)
	assert.Equal(t, want, ids)

	require.NoError(t, idx.SetTags(ctx, blue, []string{"beach", "sunset"}))

	// Only entries written strictly before the cutoff go.
	require.NoError(t, idx.DeleteIndexedBefore(ctx, now, blue, green))
	require.NoError(t, idx.DeleteIndexedBefore(ctx, now.Add(time.Second), green))
	matches, err = idx.QueryTopK(ctx, []float32{0, 1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, blue, matches[0].MediaID)
}

func TestPgvectorIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image: "pgvector/pgvector:pg16",
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	})
	cfg := postgres.Config{Connection: postgres.Connection{
		Host: host, Port: port("5432"), User: "testuser", Password: "testpass", DbName: "testdb", SSLMode: "disable",
	}}
	require.Eventually(t, func() bool {
		db, err := sql.Open("postgres", cfg.DSN())
		if err != nil {
			return false
		}
		defer db.Close()
		return db.Ping() == nil
	}, 30*time.Second, 500*time.Millisecond)

	pg, err := postgres.NewPostgres(cfg, logger.NewNop())
	require.NoError(t, err)
	defer pg.Close()

	idx := NewPgvector(pg)
	exerciseIndex(t, idx)

	assert.ErrorIs(t, idx.EnsureCollection(context.Background(), 5), ErrDimensionMismatch)

	err = idx.Upsert(context.Background(), media.EmbeddingEntry{MediaID: uuid.NewString(), Vector: []float32{1, 2}})
	assert.ErrorIs(t, err, media.ErrNonRetryableMedia)
}

func TestQdrantIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "qdrant/qdrant:v1.12.4",
		ExposedPorts: []string{"6334/tcp"},
		WaitingFor:   wait.ForListeningPort("6334/tcp").WithStartupTimeout(60 * time.Second),
	})
	grpcPort, err := strconv.Atoi(port("6334"))
	require.NoError(t, err)

	var client *qdrant.Client
	require.Eventually(t, func() bool {
		client, err = qdrant.NewClient(qdrant.Config{Endpoint: host, Port: grpcPort, Collection: "media_idx_test"}, logger.NewNop())
		return err == nil
	}, 30*time.Second, time.Second)
	defer client.Close()

	idx := NewQdrant(client)
	exerciseIndex(t, idx)

	assert.ErrorIs(t, idx.EnsureCollection(context.Background(), 5), qdrant.ErrDimensionMismatch)
}
