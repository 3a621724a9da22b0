// Package catalog maps packed point schemas to their stable integer ids in
// the storage backend's format catalog.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/schema"
)

// DefaultTable is the catalog table name.
const DefaultTable = "pointcloud_formats"

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn so registration can
// join the writer's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Entry is one catalog row.
type Entry struct {
	ID         uint32
	SRID       uint32
	Descriptor string
}

// Catalog resolves packed schemas against one catalog table. Ids are
// append-only and strictly increasing; an id is never reused for a
// structurally different schema.
//
// The scan-then-insert sequence below is not atomic against concurrent
// writers; the protocol assumes a single logical writer session per target
// table for the run's lifetime.
type Catalog struct {
	table string
}

func New() *Catalog {
	return &Catalog{table: DefaultTable}
}

// NewWithTable uses a non-default catalog table.
func NewWithTable(table string) *Catalog {
	return &Catalog{table: table}
}

// EnsureTable creates the catalog table when absent.
func (c *Catalog) EnsureTable(ctx context.Context, q Querier) error {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (pcid INTEGER, srid INTEGER, schema TEXT)", c.table)
	if _, err := q.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create catalog table %s: %w", c.table, err)
	}
	return nil
}

// ResolveOptions shape one resolution.
type ResolveOptions struct {
	// SRID is stored alongside a newly registered schema.
	SRID uint32
	// Compression is the nominal preference annotated in the descriptor.
	Compression string
	// ExplicitID, when non-zero, must already exist in the catalog;
	// resolution never falls back to auto-assignment.
	ExplicitID uint32
}

// Resolve returns the catalog id for a packed schema. An explicitly
// requested id is validated, an existing structurally equal schema reuses
// its id, and otherwise a new id one greater than the maximum is inserted.
func (c *Catalog) Resolve(ctx context.Context, q Querier, packed *schema.Schema, opts ResolveOptions) (uint32, error) {
	if err := c.EnsureTable(ctx, q); err != nil {
		return 0, err
	}

	if opts.ExplicitID != 0 {
		var count int
		row := q.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(pcid) FROM %s WHERE pcid = ?", c.table), opts.ExplicitID)
		if err := row.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to look up schema id %d: %w", opts.ExplicitID, err)
		}
		if count == 0 {
			return 0, fmt.Errorf("%w: requested schema id %d does not exist in %s",
				pcerror.ErrConfiguration, opts.ExplicitID, c.table)
		}
		return opts.ExplicitID, nil
	}

	// Reuse the id of a structurally equal schema when one is registered.
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT pcid, schema FROM %s", c.table))
	if err != nil {
		return 0, fmt.Errorf("failed to scan catalog: %w", err)
	}
	defer rows.Close()

	var maxID uint32
	for rows.Next() {
		var id uint32
		var descriptor string
		if err := rows.Scan(&id, &descriptor); err != nil {
			return 0, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		if id > maxID {
			maxID = id
		}
		existing, _, err := schema.ParseDescriptor(descriptor)
		if err != nil {
			return 0, fmt.Errorf("catalog entry %d: %w", id, err)
		}
		if packed.Equal(existing) {
			rows.Close()
			return id, nil
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan catalog: %w", err)
	}

	descriptor, err := schema.MarshalDescriptor(packed, opts.Compression)
	if err != nil {
		return 0, err
	}
	id := maxID + 1
	_, err = q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (pcid, srid, schema) VALUES (?, ?, ?)", c.table),
		id, opts.SRID, descriptor)
	if err != nil {
		return 0, fmt.Errorf("failed to register schema %d: %w", id, err)
	}
	return id, nil
}

// Lookup fetches one catalog entry by id.
func (c *Catalog) Lookup(ctx context.Context, q Querier, id uint32) (*Entry, error) {
	e := &Entry{ID: id}
	row := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT srid, schema FROM %s WHERE pcid = ?", c.table), id)
	if err := row.Scan(&e.SRID, &e.Descriptor); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: no catalog entry with id %d", pcerror.ErrConfiguration, id)
		}
		return nil, fmt.Errorf("failed to look up catalog entry %d: %w", id, err)
	}
	return e, nil
}

// Schema parses the entry's descriptor back into a packed schema and its
// metadata annotations.
func (e *Entry) Schema() (*schema.Schema, map[string]string, error) {
	return schema.ParseDescriptor(e.Descriptor)
}
