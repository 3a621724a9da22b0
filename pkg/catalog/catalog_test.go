package catalog_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pc-pipeline/pkg/catalog"
	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/schema"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	connector, err := duckdb.NewConnector("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { connector.Close() })

	db := sql.OpenDB(connector)
	t.Cleanup(func() { db.Close() })
	return db
}

func xySchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New()
	require.NoError(t, s.Append(schema.Dim("X", schema.Double)))
	require.NoError(t, s.Append(schema.Dim("Y", schema.Double)))
	return s
}

func TestResolveAssignsAndReusesIDs(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	cat := catalog.New()

	s := xySchema(t).Pack()

	id, err := cat.Resolve(ctx, db, s, catalog.ResolveOptions{SRID: 4326, Compression: "none"})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	// Registering a structurally equal schema reuses the id.
	again, err := cat.Resolve(ctx, db, s, catalog.ResolveOptions{SRID: 4326, Compression: "none"})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// A structurally different schema gets a strictly greater id.
	other := schema.New()
	require.NoError(t, other.Append(schema.Dim("X", schema.Double)))
	require.NoError(t, other.Append(schema.Dim("Y", schema.Double)))
	require.NoError(t, other.Append(schema.Dim("Z", schema.Double)))

	next, err := cat.Resolve(ctx, db, other.Pack(), catalog.ResolveOptions{SRID: 4326})
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestResolveExplicitID(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	cat := catalog.New()

	s := xySchema(t).Pack()

	// A nonexistent explicit id is a configuration error, never an
	// auto-assignment.
	_, err := cat.Resolve(ctx, db, s, catalog.ResolveOptions{ExplicitID: 42})
	assert.ErrorIs(t, err, pcerror.ErrConfiguration)

	id, err := cat.Resolve(ctx, db, s, catalog.ResolveOptions{SRID: 4326})
	require.NoError(t, err)

	got, err := cat.Resolve(ctx, db, s, catalog.ResolveOptions{ExplicitID: id})
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestResolveStoresDescriptorAndSRID(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	cat := catalog.New()

	s := xySchema(t).Pack()
	id, err := cat.Resolve(ctx, db, s, catalog.ResolveOptions{SRID: 3857, Compression: "dimensional"})
	require.NoError(t, err)

	entry, err := cat.Lookup(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(3857), entry.SRID)

	parsed, meta, err := entry.Schema()
	require.NoError(t, err)
	assert.True(t, s.Equal(parsed))
	assert.Equal(t, "dimensional", meta[schema.CompressionKey])
}

func TestLookupMissingEntry(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	cat := catalog.New()

	require.NoError(t, cat.EnsureTable(ctx, db))
	_, err := cat.Lookup(ctx, db, 99)
	assert.ErrorIs(t, err, pcerror.ErrConfiguration)
}

func TestResolveInsideTransaction(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	cat := catalog.New()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	s := xySchema(t).Pack()
	_, err = cat.Resolve(ctx, tx, s, catalog.ResolveOptions{SRID: 4326})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	// A rolled-back session leaves no catalog rows behind.
	require.NoError(t, cat.EnsureTable(ctx, db))
	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+catalog.DefaultTable).Scan(&count))
	assert.Equal(t, 0, count)
}
