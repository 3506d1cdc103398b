package io

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tachyon/internal/dataset"
)

// Opener loads datasets from local paths or s3:// URIs and records their
// origin so that remote workers can open the same source.
type Opener struct {
	Objects *ObjectStore
	Mem     memory.Allocator
}

// ReadFile loads a local file, detecting the format from its extension.
func ReadFile(ctx context.Context, path string) (*dataset.Dataset, error) {
	return (&Opener{}).Open(ctx, path)
}

// Open loads the dataset at location.
func (o *Opener) Open(ctx context.Context, location string) (*dataset.Dataset, error) {
	format, ok := DetectFormat(location)
	if !ok {
		return nil, fmt.Errorf("cannot detect data format of %q", location)
	}
	return o.OpenFormat(ctx, location, format)
}

// OpenFormat loads the dataset at location using an explicit format.
func (o *Opener) OpenFormat(ctx context.Context, location string, format Format) (*dataset.Dataset, error) {
	mem := o.Mem
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	var (
		data []byte
		err  error
	)
	if IsObjectURI(location) {
		data, err = o.Objects.Fetch(ctx, location)
	} else {
		location, err = filepath.Abs(location)
		if err == nil {
			data, err = os.ReadFile(location)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", location, err)
	}

	ds, err := Decode(data, format, mem)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", location, err)
	}
	defer ds.Release()
	return ds.WithOrigin(dataset.Origin{Format: string(format), Location: location}), nil
}

// Decode parses an in-memory file of the given format.
func Decode(data []byte, format Format, mem memory.Allocator) (*dataset.Dataset, error) {
	switch format {
	case FormatParquet:
		return readParquetBytes(data, mem)
	case FormatIPC:
		return readIPCBytes(data, mem)
	case FormatCSV:
		return NewCSVReader(bytes.NewReader(data), DefaultCSVOptions(), mem).Read()
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// WriteFile writes ds to path, detecting the format from its extension.
func WriteFile(path string, ds *dataset.Dataset) error {
	format, ok := DetectFormat(path)
	if !ok {
		return fmt.Errorf("cannot detect data format of %q", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	var writer DataWriter
	switch format {
	case FormatParquet:
		writer = NewParquetWriter(f, DefaultParquetOptions())
	case FormatIPC:
		writer = NewIPCWriter(f)
	default:
		writer = NewCSVWriter(f, DefaultCSVOptions())
	}
	if err := writer.Write(ds); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// WriteRecords writes record batches to a Parquet or IPC file.
func WriteRecords(path string, format Format, schema *arrow.Schema, recs []arrow.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	switch format {
	case FormatParquet:
		err = NewParquetWriter(f, DefaultParquetOptions()).WriteRecords(schema, recs)
	case FormatIPC:
		err = NewIPCWriter(f).WriteRecords(schema, recs)
	default:
		err = fmt.Errorf("unsupported snapshot format %q", format)
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
