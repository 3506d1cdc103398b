package io

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/paveg/tachyon/internal/dataset"
)

// Read reads Parquet data and returns a Dataset.
func (r *ParquetReader) Read() (*dataset.Dataset, error) {
	// Parquet needs random access, so buffer the stream
	data, err := io.ReadAll(r.reader)
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}
	return readParquetBytes(data, r.mem)
}

func readParquetBytes(data []byte, mem memory.Allocator) (*dataset.Dataset, error) {
	pqReader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating parquet file reader: %w", err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("creating arrow file reader: %w", err)
	}

	table, err := arrowReader.ReadTable(context.Background())
	if err != nil {
		return nil, fmt.Errorf("reading table: %w", err)
	}
	defer table.Release()

	return dataset.FromTable(table, mem)
}

// Write writes the Dataset to Parquet format.
func (w *ParquetWriter) Write(ds *dataset.Dataset) error {
	rec := ds.Record()
	defer rec.Release()
	return w.WriteRecords(ds.Schema(), []arrow.Record{rec})
}

// WriteRecords writes record batches sharing schema as one Parquet file.
func (w *ParquetWriter) WriteRecords(schema *arrow.Schema, recs []arrow.Record) error {
	props := parquet.NewWriterProperties(
		parquet.WithCompression(parquetCodec(w.options.Compression)),
		parquet.WithBatchSize(int64(max(w.options.BatchSize, 1))),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(memory.NewGoAllocator()))

	// pqarrow closes sinks implementing io.Closer; the caller owns w.writer.
	writer, err := pqarrow.NewFileWriter(schema, unclosable{w.writer}, props, arrowProps)
	if err != nil {
		return fmt.Errorf("creating file writer: %w", err)
	}

	for i, rec := range recs {
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return fmt.Errorf("writing record batch %d: %w", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

// unclosable hides the Close method of the wrapped writer.
type unclosable struct {
	io.Writer
}

func parquetCodec(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Codecs.Gzip
	case "lz4":
		return compress.Codecs.Lz4Raw
	case "zstd":
		return compress.Codecs.Zstd
	case "uncompressed", "none":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Snappy
	}
}
