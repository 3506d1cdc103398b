package io

import (
	"bytes"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tachyon/internal/dataset"
)

// Read reads an Arrow IPC file and returns a Dataset.
func (r *IPCReader) Read() (*dataset.Dataset, error) {
	data, err := io.ReadAll(r.reader)
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}
	return readIPCBytes(data, r.mem)
}

func readIPCBytes(data []byte, mem memory.Allocator) (*dataset.Dataset, error) {
	fr, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("opening ipc file: %w", err)
	}
	defer fr.Close()

	recs := make([]arrow.Record, 0, fr.NumRecords())
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.RecordAt(i)
		if err != nil {
			return nil, fmt.Errorf("reading record batch %d: %w", i, err)
		}
		recs = append(recs, rec)
	}
	return recordsToDataset(fr.Schema(), recs, mem)
}

func recordsToDataset(schema *arrow.Schema, recs []arrow.Record, mem memory.Allocator) (*dataset.Dataset, error) {
	tbl := array.NewTableFromRecords(schema, recs)
	defer tbl.Release()
	return dataset.FromTable(tbl, mem)
}

// Write writes the Dataset as an Arrow IPC file.
func (w *IPCWriter) Write(ds *dataset.Dataset) error {
	rec := ds.Record()
	defer rec.Release()
	return w.WriteRecords(ds.Schema(), []arrow.Record{rec})
}

// WriteRecords writes record batches sharing schema as one Arrow IPC file.
func (w *IPCWriter) WriteRecords(schema *arrow.Schema, recs []arrow.Record) error {
	fw, err := ipc.NewFileWriter(w.writer, ipc.WithSchema(schema))
	if err != nil {
		return fmt.Errorf("creating ipc writer: %w", err)
	}
	for i, rec := range recs {
		if err := fw.Write(rec); err != nil {
			_ = fw.Close()
			return fmt.Errorf("writing record batch %d: %w", i, err)
		}
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("closing ipc writer: %w", err)
	}
	return nil
}

// EncodeStream serializes record batches in the Arrow IPC stream format.
// With compress set, buffers are zstd-compressed.
func EncodeStream(schema *arrow.Schema, recs []arrow.Record, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	opts := []ipc.Option{ipc.WithSchema(schema)}
	if compress {
		opts = append(opts, ipc.WithZstd())
	}
	sw := ipc.NewWriter(&buf, opts...)
	for i, rec := range recs {
		if err := sw.Write(rec); err != nil {
			_ = sw.Close()
			return nil, fmt.Errorf("encoding record batch %d: %w", i, err)
		}
	}
	if err := sw.Close(); err != nil {
		return nil, fmt.Errorf("closing ipc stream: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeStream parses bytes produced by EncodeStream. The caller owns the
// returned records and must release them.
func DecodeStream(data []byte, mem memory.Allocator) (*arrow.Schema, []arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	sr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, nil, fmt.Errorf("opening ipc stream: %w", err)
	}
	defer sr.Release()

	var recs []arrow.Record
	for sr.Next() {
		rec := sr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := sr.Err(); err != nil {
		for _, rec := range recs {
			rec.Release()
		}
		return nil, nil, fmt.Errorf("decoding ipc stream: %w", err)
	}
	return sr.Schema(), recs, nil
}

// EncodeDataset serializes a dataset as an Arrow IPC stream.
func EncodeDataset(ds *dataset.Dataset, compress bool) ([]byte, error) {
	rec := ds.Record()
	defer rec.Release()
	return EncodeStream(ds.Schema(), []arrow.Record{rec}, compress)
}

// DecodeDataset rebuilds a dataset from EncodeDataset output.
func DecodeDataset(data []byte, mem memory.Allocator) (*dataset.Dataset, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	schema, recs, err := DecodeStream(data, mem)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	return recordsToDataset(schema, recs, mem)
}
