package io_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/io"
	"github.com/paveg/tachyon/internal/series"
	"github.com/paveg/tachyon/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path     string
		expected io.Format
		ok       bool
	}{
		{"events.parquet", io.FormatParquet, true},
		{"/tmp/x.PQ", io.FormatParquet, true},
		{"s3://bucket/run/events.arrow", io.FormatIPC, true},
		{"data.csv", io.FormatCSV, true},
		{"README.md", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f, ok := io.DetectFormat(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, f)
		})
	}
}

func TestParquetRoundTrip(t *testing.T) {
	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(50))
	defer ds.Release()

	var buf bytes.Buffer
	require.NoError(t, io.NewParquetWriter(&buf, io.DefaultParquetOptions()).Write(ds))

	back, err := io.NewParquetReader(&buf, io.DefaultParquetOptions(), nil).Read()
	require.NoError(t, err)
	defer back.Release()

	testutil.AssertDatasetEqual(t, ds, back)
}

// closeCounter records how often the sink is closed.
type closeCounter struct {
	bytes.Buffer
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func TestParquetWriterLeavesSinkOpen(t *testing.T) {
	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(20))
	defer ds.Release()

	sink := &closeCounter{}
	require.NoError(t, io.NewParquetWriter(sink, io.DefaultParquetOptions()).Write(ds))
	assert.Zero(t, sink.closed)
	assert.NotZero(t, sink.Len())

	f, err := os.Create(filepath.Join(t.TempDir(), "events.parquet"))
	require.NoError(t, err)
	require.NoError(t, io.NewParquetWriter(f, io.DefaultParquetOptions()).Write(ds))
	assert.NoError(t, f.Close())
}

func TestWriteRecordsParquet(t *testing.T) {
	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(15))
	defer ds.Release()
	rec := ds.Record()
	defer rec.Release()

	path := filepath.Join(t.TempDir(), "snap.parquet")
	require.NoError(t, io.WriteRecords(path, io.FormatParquet, ds.Schema(), []arrow.Record{rec, rec}))

	loaded, err := io.ReadFile(context.Background(), path)
	require.NoError(t, err)
	defer loaded.Release()
	assert.Equal(t, 30, loaded.Len())
	assert.Equal(t, ds.Columns(), loaded.Columns())
}

func TestIPCFileRoundTrip(t *testing.T) {
	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(20))
	defer ds.Release()

	var buf bytes.Buffer
	require.NoError(t, io.NewIPCWriter(&buf).Write(ds))

	back, err := io.NewIPCReader(&buf, nil).Read()
	require.NoError(t, err)
	defer back.Release()

	testutil.AssertDatasetEqual(t, ds, back)
}

func TestStreamRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(30))

		data, err := io.EncodeDataset(ds, compress)
		require.NoError(t, err)

		back, err := io.DecodeDataset(data, nil)
		require.NoError(t, err)

		testutil.AssertDatasetEqual(t, ds, back)
		back.Release()
		ds.Release()
	}
}

func TestStreamSlice(t *testing.T) {
	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(30))
	defer ds.Release()

	sl := ds.Slice(dataset.Range{Start: 10, End: 20})
	defer sl.Release()

	data, err := io.EncodeDataset(sl, false)
	require.NoError(t, err)
	back, err := io.DecodeDataset(data, nil)
	require.NoError(t, err)
	defer back.Release()

	require.Equal(t, 10, back.Len())
	assert.Equal(t, testutil.Float64Values(t, sl, "a"), testutil.Float64Values(t, back, "a"))
}

func TestCSVReader(t *testing.T) {
	input := strings.Join([]string{
		"id,score,ok,label",
		"1,0.5,true,x",
		"2,,false,y",
		"3,1.5,TRUE,",
	}, "\n")

	ds, err := io.NewCSVReader(strings.NewReader(input), io.DefaultCSVOptions(), nil).Read()
	require.NoError(t, err)
	defer ds.Release()

	require.Equal(t, 3, ds.Len())
	schema := ds.Schema()
	assert.Equal(t, arrow.INT64, schema.Field(0).Type.ID())
	assert.Equal(t, arrow.FLOAT64, schema.Field(1).Type.ID())
	assert.Equal(t, arrow.BOOL, schema.Field(2).Type.ID())
	assert.Equal(t, arrow.STRING, schema.Field(3).Type.ID())

	score, _ := ds.Column("score")
	assert.True(t, score.IsNull(1))
	assert.False(t, score.IsNull(0))
}

func TestCSVReaderNoHeader(t *testing.T) {
	opts := io.DefaultCSVOptions()
	opts.Header = false
	opts.Delimiter = ';'
	ds, err := io.NewCSVReader(strings.NewReader("1;a\n2;b\n"), opts, nil).Read()
	require.NoError(t, err)
	defer ds.Release()
	assert.Equal(t, []string{"column_0", "column_1"}, ds.Columns())
}

func TestCSVWriter(t *testing.T) {
	ds, err := dataset.New(
		series.New("n", []int32{1, 2}, nil),
		series.New("x", []float64{0.25, 3}, nil),
		series.New("s", []string{"a", "b"}, nil),
	)
	require.NoError(t, err)
	defer ds.Release()

	var buf bytes.Buffer
	require.NoError(t, io.NewCSVWriter(&buf, io.DefaultCSVOptions()).Write(ds))
	assert.Equal(t, "n,x,s\n1,0.25,a\n2,3,b\n", buf.String())
}

func TestOpenerRecordsOrigin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.parquet")

	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(10))
	defer ds.Release()
	require.NoError(t, io.WriteFile(path, ds))

	loaded, err := io.ReadFile(context.Background(), path)
	require.NoError(t, err)
	defer loaded.Release()

	origin, ok := loaded.Origin()
	require.True(t, ok)
	assert.Equal(t, "parquet", origin.Format)
	assert.Equal(t, path, origin.Location)
	testutil.AssertDatasetEqual(t, ds, loaded)
}

func TestWriteRecords(t *testing.T) {
	ds := testutil.CreateEventDataset(nil, testutil.WithRowCount(10))
	defer ds.Release()
	rec := ds.Record()
	defer rec.Release()

	path := filepath.Join(t.TempDir(), "snap.arrow")
	require.NoError(t, io.WriteRecords(path, io.FormatIPC, ds.Schema(), []arrow.Record{rec, rec}))

	loaded, err := io.ReadFile(context.Background(), path)
	require.NoError(t, err)
	defer loaded.Release()
	assert.Equal(t, 20, loaded.Len())

	err = io.WriteRecords(filepath.Join(t.TempDir(), "x.csv"), io.FormatCSV, ds.Schema(), nil)
	assert.Error(t, err)
}

func TestReadFileErrors(t *testing.T) {
	_, err := io.ReadFile(context.Background(), "notes.txt")
	assert.Error(t, err)

	_, err = io.ReadFile(context.Background(), filepath.Join(t.TempDir(), "missing.parquet"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseObjectURI(t *testing.T) {
	bucket, key, err := io.ParseObjectURI("s3://physics/run2/events.parquet")
	require.NoError(t, err)
	assert.Equal(t, "physics", bucket)
	assert.Equal(t, "run2/events.parquet", key)

	for _, bad := range []string{"http://x/y", "s3://bucket", "s3:///key"} {
		_, _, err := io.ParseObjectURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestDisabledObjectStore(t *testing.T) {
	store, err := io.NewObjectStore(io.ObjectStoreConfig{})
	require.NoError(t, err)

	opener := &io.Opener{Objects: store}
	_, err = opener.Open(context.Background(), "s3://bucket/events.parquet")
	assert.ErrorIs(t, err, io.ErrObjectStoreDisabled)
}
