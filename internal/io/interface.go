// Package io provides readers and writers that move datasets between the
// column store and on-disk columnar formats.
//
// Key components:
//   - DataReader/DataWriter interfaces for pluggable I/O backends
//   - ParquetReader/ParquetWriter built on arrow's pqarrow
//   - IPCReader/IPCWriter for Arrow IPC files, plus stream helpers used to
//     ship record batches between processes
//   - CSVReader/CSVWriter with type inference
//   - ObjectStore for s3:// sources
//
// Memory management: All I/O operations integrate with Apache Arrow's
// memory management system and require proper cleanup with defer patterns.
package io

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tachyon/internal/dataset"
)

const (
	// DefaultBatchSize is the default batch size for I/O operations
	DefaultBatchSize = 1000
)

// Format identifies an on-disk data format.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatIPC     Format = "ipc"
	FormatCSV     Format = "csv"
)

// DetectFormat infers the format from a path or URI extension.
func DetectFormat(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".pq":
		return FormatParquet, true
	case ".arrow", ".ipc", ".feather":
		return FormatIPC, true
	case ".csv":
		return FormatCSV, true
	default:
		return "", false
	}
}

// DataReader defines the interface for reading data from various sources
type DataReader interface {
	// Read reads data from the source and returns a Dataset
	Read() (*dataset.Dataset, error)
}

// DataWriter defines the interface for writing data to various destinations
type DataWriter interface {
	// Write writes the Dataset to the destination
	Write(ds *dataset.Dataset) error
}

// CSVOptions contains configuration options for CSV operations
type CSVOptions struct {
	// Delimiter is the field delimiter (default: comma)
	Delimiter rune
	// Comment is the comment character (default: 0 = disabled)
	Comment rune
	// Header indicates whether the first row contains headers
	Header bool
	// SkipInitialSpace indicates whether to skip initial whitespace
	SkipInitialSpace bool
}

// DefaultCSVOptions returns default CSV options
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter: ',',
		Header:    true,
	}
}

// CSVReader reads CSV data and converts it to Datasets
type CSVReader struct {
	reader  io.Reader
	options CSVOptions
	mem     memory.Allocator
}

// NewCSVReader creates a new CSV reader with the specified options
func NewCSVReader(reader io.Reader, options CSVOptions, mem memory.Allocator) *CSVReader {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &CSVReader{
		reader:  reader,
		options: options,
		mem:     mem,
	}
}

// CSVWriter writes Datasets to CSV format
type CSVWriter struct {
	writer  io.Writer
	options CSVOptions
}

// NewCSVWriter creates a new CSV writer with the specified options
func NewCSVWriter(writer io.Writer, options CSVOptions) *CSVWriter {
	return &CSVWriter{
		writer:  writer,
		options: options,
	}
}

// ParquetOptions contains configuration options for Parquet operations
type ParquetOptions struct {
	// Compression type for Parquet files
	Compression string
	// BatchSize for reading/writing operations
	BatchSize int
}

// DefaultParquetOptions returns default Parquet options
func DefaultParquetOptions() ParquetOptions {
	return ParquetOptions{
		Compression: "snappy",
		BatchSize:   DefaultBatchSize,
	}
}

// ParquetReader reads Parquet data and converts it to Datasets
type ParquetReader struct {
	reader  io.Reader
	options ParquetOptions
	mem     memory.Allocator
}

// NewParquetReader creates a new Parquet reader with the specified options
func NewParquetReader(reader io.Reader, options ParquetOptions, mem memory.Allocator) *ParquetReader {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &ParquetReader{
		reader:  reader,
		options: options,
		mem:     mem,
	}
}

// ParquetWriter writes Datasets to Parquet format
type ParquetWriter struct {
	writer  io.Writer
	options ParquetOptions
}

// NewParquetWriter creates a new Parquet writer with the specified options
func NewParquetWriter(writer io.Writer, options ParquetOptions) *ParquetWriter {
	return &ParquetWriter{
		writer:  writer,
		options: options,
	}
}

// IPCReader reads Arrow IPC files
type IPCReader struct {
	reader io.Reader
	mem    memory.Allocator
}

// NewIPCReader creates a new Arrow IPC file reader
func NewIPCReader(reader io.Reader, mem memory.Allocator) *IPCReader {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &IPCReader{reader: reader, mem: mem}
}

// IPCWriter writes Datasets as Arrow IPC files
type IPCWriter struct {
	writer io.Writer
}

// NewIPCWriter creates a new Arrow IPC file writer
func NewIPCWriter(writer io.Writer) *IPCWriter {
	return &IPCWriter{writer: writer}
}
