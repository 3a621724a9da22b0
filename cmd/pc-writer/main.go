package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/duckdb/duckdb-go/v2"
	"github.com/joho/godotenv"

	"pc-pipeline/pkg/patch"
	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/point"
	"pc-pipeline/pkg/stream"
	"pc-pipeline/pkg/writer"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	if len(os.Args) < 2 {
		log.Fatal("usage: pc-writer <points.parquet>")
	}
	input := os.Args[1]

	compression, err := patch.ParseCompression(os.Getenv("PC_COMPRESSION"))
	if err != nil {
		log.Fatal(err)
	}

	cfg := writer.Config{
		Table:       os.Getenv("PC_TABLE"),
		Schema:      os.Getenv("PC_SCHEMA"),
		Column:      os.Getenv("PC_COLUMN"),
		Compression: compression,
		Overwrite:   envBool("PC_OVERWRITE", true),
		CreateIndex: envBool("PC_CREATE_INDEX", true),
		Capacity:    envUint32("PC_CAPACITY", 400),
		SRID:        envUint32("PC_SRID", 4326),
		SchemaID:    envUint32("PC_PCID", 0),
		PreSQL:      os.Getenv("PC_PRE_SQL"),
		PostSQL:     os.Getenv("PC_POST_SQL"),
	}

	// DuckDB setup
	connector, err := duckdb.NewConnector(os.Getenv("PC_DB_PATH"), nil)
	if err != nil {
		log.Fatal("Failed to create DuckDB connector:", err)
	}
	defer connector.Close()

	db := sql.OpenDB(connector)
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal(fmt.Errorf("%w: %v", pcerror.ErrConnectivity, err))
	}

	recs, err := readParquet(ctx, input)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	s, err := stream.SchemaFromArrow(recs[0].Schema())
	if err != nil {
		log.Fatal(err)
	}

	src, err := stream.NewArrowSource(s, recs)
	if err != nil {
		log.Fatal(err)
	}

	w, err := writer.New(db, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer w.Close()

	if err := w.Begin(ctx, s); err != nil {
		log.Fatal(err)
	}

	buf := point.New(s, int(cfg.Capacity))
	for !src.AtEnd() {
		buf.Reset()
		n, err := src.Read(buf)
		if err != nil {
			log.Fatal(err)
		}
		if n == 0 {
			break
		}
		if err := w.Write(ctx, buf); err != nil {
			log.Fatal(err)
		}
	}

	if err := w.End(ctx); err != nil {
		log.Fatal(err)
	}

	log.Printf("wrote %d points in %d patches (pcid %d)", src.Index(), w.Written(), w.SchemaID())
}

// readParquet loads all record batches from a parquet file.
func readParquet(ctx context.Context, path string) ([]arrow.RecordBatch, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %s: %v", path, err)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{
		BatchSize: 10000,
	}, memory.NewGoAllocator())
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader for %s: %v", path, err)
	}

	recordReader, err := reader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get record reader for %s: %v", path, err)
	}
	defer recordReader.Release()

	var recs []arrow.RecordBatch
	for recordReader.Next() {
		rec := recordReader.RecordBatch()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := recordReader.Err(); err != nil {
		for _, rec := range recs {
			rec.Release()
		}
		return nil, fmt.Errorf("error reading records from %s: %v", path, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s holds no records", pcerror.ErrFormat, path)
	}
	return recs, nil
}

func envUint32(name string, def uint32) uint32 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		log.Fatal(fmt.Errorf("%w: %s=%q is not a number", pcerror.ErrConfiguration, name, v))
	}
	return uint32(n)
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatal(fmt.Errorf("%w: %s=%q is not a boolean", pcerror.ErrConfiguration, name, v))
	}
	return b
}
