// Package writer persists streamed point buffers into a column-oriented
// point-cloud table, one hex-encoded patch per row.
package writer

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"pc-pipeline/pkg/catalog"
	"pc-pipeline/pkg/patch"
	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/point"
	"pc-pipeline/pkg/schema"
)

// Config shapes one writer session. Only Table is required.
type Config struct {
	// Table receives one row per patch.
	Table string
	// Schema is the database schema the table resides in, empty for the
	// backend default.
	Schema string
	// Column is the patch column name, "pa" when empty.
	Column string
	// Compression applied to every patch payload and annotated in the
	// catalog descriptor.
	Compression patch.Compression
	// Overwrite drops an existing table before recreating it.
	Overwrite bool
	// CreateIndex builds a spatial index on session end when the backend
	// supports one.
	CreateIndex bool
	// Capacity is the per-patch point limit, 400 when zero.
	Capacity uint32
	// SRID is the spatial reference stored with a new catalog entry,
	// 4326 when zero.
	SRID uint32
	// SchemaID requests an existing catalog id; it must exist. Zero means
	// resolve or register automatically.
	SchemaID uint32
	// PreSQL and PostSQL run inside the session transaction around the
	// writing phase. Each value is either a path to a SQL file or a
	// literal SQL statement.
	PreSQL  string
	PostSQL string
}

func (c Config) withDefaults() Config {
	if c.Column == "" {
		c.Column = "pa"
	}
	if c.Capacity == 0 {
		c.Capacity = 400
	}
	if c.SRID == 0 {
		c.SRID = 4326
	}
	return c
}

func (c Config) qualifiedTable() string {
	if c.Schema != "" {
		return c.Schema + "." + c.Table
	}
	return c.Table
}

// Writer is one persisting session. All writes share a single transaction:
// either every patch of the run is committed by End, or a failure anywhere
// rolls the whole set back.
type Writer struct {
	db  *sql.DB
	cfg Config
	cat *catalog.Catalog
	enc *patch.Encoder

	tx       *sql.Tx
	schemaID uint32
	nextID   int64
	spatial  bool
	envelope bool
	written  uint64
	done     bool
}

// New validates the configuration and prepares a session. The backend is
// not touched until Begin.
func New(db *sql.DB, cfg Config) (*Writer, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("%w: no target table given", pcerror.ErrConfiguration)
	}
	cfg = cfg.withDefaults()
	return &Writer{
		db:  db,
		cfg: cfg,
		cat: catalog.New(),
		enc: patch.NewEncoder(cfg.Capacity, cfg.Compression),
	}, nil
}

// SchemaID is the catalog id resolved by Begin.
func (w *Writer) SchemaID() uint32 {
	return w.schemaID
}

// Written is the number of patches appended so far.
func (w *Writer) Written() uint64 {
	return w.written
}

// Begin opens the session transaction, runs the pre-SQL hook, registers the
// stream's packed schema with the catalog and creates the patch table when
// absent (or recreates it under the overwrite policy).
func (w *Writer) Begin(ctx context.Context, s *schema.Schema) error {
	if w.tx != nil || w.done {
		return fmt.Errorf("%w: session already begun", pcerror.ErrState)
	}

	// The spatial probe is not transactional; extension state persists on
	// the connection regardless of the session outcome.
	w.spatial = w.probeSpatial(ctx)

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: cannot begin session: %v", pcerror.ErrConnectivity, err)
	}
	w.tx = tx

	if err := w.runHook(ctx, w.cfg.PreSQL); err != nil {
		return w.abort(err)
	}

	exists, err := w.tableExists(ctx)
	if err != nil {
		return w.abort(err)
	}
	if w.cfg.Overwrite && exists {
		if _, err := w.tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+w.cfg.qualifiedTable()); err != nil {
			return w.abort(fmt.Errorf("failed to drop %s: %w", w.cfg.qualifiedTable(), err))
		}
		exists = false
	}

	packed := s.Pack()
	id, err := w.cat.Resolve(ctx, w.tx, packed, catalog.ResolveOptions{
		SRID:        w.cfg.SRID,
		Compression: w.cfg.Compression.String(),
		ExplicitID:  w.cfg.SchemaID,
	})
	if err != nil {
		return w.abort(err)
	}
	w.schemaID = id

	_, hasX := packed.Dimension("X")
	_, hasY := packed.Dimension("Y")
	w.envelope = w.spatial && hasX && hasY

	if !exists {
		ddl := fmt.Sprintf("CREATE TABLE %s (id INTEGER, %s TEXT", w.cfg.qualifiedTable(), w.cfg.Column)
		if w.envelope {
			ddl += ", env GEOMETRY"
		}
		ddl += ")"
		if _, err := w.tx.ExecContext(ctx, ddl); err != nil {
			return w.abort(fmt.Errorf("failed to create %s: %w", w.cfg.qualifiedTable(), err))
		}
	} else {
		row := w.tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", w.cfg.qualifiedTable()))
		if err := row.Scan(&w.nextID); err != nil {
			return w.abort(fmt.Errorf("failed to read max patch id from %s: %w", w.cfg.qualifiedTable(), err))
		}
		// An existing table keeps whatever envelope column it has.
		w.envelope = w.envelope && w.columnExists(ctx, "env")
	}

	log.Printf("writer session open: table=%s pcid=%d spatial=%v", w.cfg.qualifiedTable(), id, w.spatial)
	return nil
}

// Write encodes one buffer into a patch and appends it. An empty buffer
// appends nothing.
func (w *Writer) Write(ctx context.Context, buf *point.Buffer) error {
	if w.tx == nil {
		return fmt.Errorf("%w: Write before Begin", pcerror.ErrState)
	}
	if buf.Len() == 0 {
		return nil
	}

	encoded, err := w.enc.Encode(w.schemaID, buf)
	if err != nil {
		return w.abort(err)
	}

	w.nextID++
	if w.envelope {
		wkt, err := envelopeWKT(buf)
		if err != nil {
			return w.abort(err)
		}
		_, err = w.tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (id, %s, env) VALUES (?, ?, ST_GeomFromText(?))",
				w.cfg.qualifiedTable(), w.cfg.Column),
			w.nextID, encoded, wkt)
		if err != nil {
			return w.abort(fmt.Errorf("failed to insert patch %d: %w", w.nextID, err))
		}
	} else {
		_, err = w.tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (id, %s) VALUES (?, ?)", w.cfg.qualifiedTable(), w.cfg.Column),
			w.nextID, encoded)
		if err != nil {
			return w.abort(fmt.Errorf("failed to insert patch %d: %w", w.nextID, err))
		}
	}
	w.written++
	return nil
}

// End builds the optional spatial index, runs the post-SQL hook and commits
// the session.
func (w *Writer) End(ctx context.Context) error {
	if w.tx == nil {
		return fmt.Errorf("%w: End before Begin", pcerror.ErrState)
	}

	if w.cfg.CreateIndex && w.envelope {
		name := w.cfg.Table + "_pc_gix"
		if w.cfg.Schema != "" {
			name = w.cfg.Schema + "_" + name
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s USING RTREE (env)", name, w.cfg.qualifiedTable())
		if _, err := w.tx.ExecContext(ctx, stmt); err != nil {
			return w.abort(fmt.Errorf("failed to create spatial index %s: %w", name, err))
		}
	}

	if err := w.runHook(ctx, w.cfg.PostSQL); err != nil {
		return w.abort(err)
	}

	if err := w.tx.Commit(); err != nil {
		w.tx = nil
		return fmt.Errorf("failed to commit session: %w", err)
	}
	w.tx = nil
	w.done = true
	log.Printf("writer session committed: table=%s patches=%d", w.cfg.qualifiedTable(), w.written)
	return nil
}

// Close rolls back a session that was never committed. It is safe to defer
// alongside a normal End.
func (w *Writer) Close() error {
	if w.tx == nil {
		return nil
	}
	err := w.tx.Rollback()
	w.tx = nil
	return err
}

func (w *Writer) abort(err error) error {
	if w.tx != nil {
		w.tx.Rollback()
		w.tx = nil
	}
	return err
}

// runHook executes a pre/post hook. The value is either a path to a SQL
// file or the SQL text itself.
func (w *Writer) runHook(ctx context.Context, hook string) error {
	if hook == "" {
		return nil
	}
	stmt := hook
	if content, err := os.ReadFile(hook); err == nil && len(content) > 0 {
		stmt = string(content)
	}
	if _, err := w.tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("hook SQL failed: %w", err)
	}
	return nil
}

func (w *Writer) tableExists(ctx context.Context) (bool, error) {
	query := "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?"
	args := []any{w.cfg.Table}
	if w.cfg.Schema != "" {
		query += " AND table_schema = ?"
		args = append(args, w.cfg.Schema)
	}
	var count int
	if err := w.tx.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check for table %s: %w", w.cfg.Table, err)
	}
	return count > 0, nil
}

func (w *Writer) columnExists(ctx context.Context, column string) bool {
	query := "SELECT COUNT(*) FROM information_schema.columns WHERE table_name = ? AND column_name = ?"
	var count int
	if err := w.tx.QueryRowContext(ctx, query, w.cfg.Table, column).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

func (w *Writer) probeSpatial(ctx context.Context) bool {
	if _, err := w.db.ExecContext(ctx, "INSTALL spatial; LOAD spatial;"); err != nil {
		log.Printf("spatial extension unavailable, patches will carry no envelope: %v", err)
		return false
	}
	return true
}

// envelopeWKT derives the buffer's bounding box as a WKT polygon from its X
// and Y dimensions.
func envelopeWKT(buf *point.Buffer) (string, error) {
	var minX, minY, maxX, maxY float64
	for i := 0; i < buf.Len(); i++ {
		x, err := buf.Float(i, "X")
		if err != nil {
			return "", err
		}
		y, err := buf.Float(i, "Y")
		if err != nil {
			return "", err
		}
		if i == 0 || x < minX {
			minX = x
		}
		if i == 0 || x > maxX {
			maxX = x
		}
		if i == 0 || y < minY {
			minY = y
		}
		if i == 0 || y > maxY {
			maxY = y
		}
	}
	return fmt.Sprintf("POLYGON((%g %g, %g %g, %g %g, %g %g, %g %g))",
		minX, minY, minX, maxY, maxX, maxY, maxX, minY, minX, minY), nil
}
