package io

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/series"
)

const (
	trueStr  = "true"
	falseStr = "false"
)

type csvType int

const (
	csvString csvType = iota
	csvBool
	csvInt
	csvFloat
)

// Read reads CSV data and returns a Dataset. Empty fields become nulls.
func (r *CSVReader) Read() (*dataset.Dataset, error) {
	csvReader := csv.NewReader(r.reader)
	csvReader.Comma = r.options.Delimiter
	csvReader.Comment = r.options.Comment
	csvReader.TrimLeadingSpace = r.options.SkipInitialSpace

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) == 0 {
		return dataset.New()
	}

	var headers []string
	dataRows := records
	if r.options.Header {
		headers = records[0]
		dataRows = records[1:]
	} else {
		headers = make([]string, len(records[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("column_%d", i)
		}
	}

	// Transpose data to work with columns
	columns := make([][]string, len(headers))
	for i := range headers {
		columns[i] = make([]string, len(dataRows))
		for j, row := range dataRows {
			if i < len(row) {
				columns[i][j] = row[i]
			}
		}
	}

	cols := make([]series.Column, 0, len(headers))
	for i, header := range headers {
		c, err := r.createColumn(header, columns[i])
		if err != nil {
			for _, built := range cols {
				built.Release()
			}
			return nil, fmt.Errorf("creating column %s: %w", header, err)
		}
		cols = append(cols, c)
	}
	return dataset.New(cols...)
}

// createColumn builds a column from string data, inferring its type.
func (r *CSVReader) createColumn(name string, data []string) (series.Column, error) {
	valid := make([]bool, len(data))
	for i, v := range data {
		valid[i] = v != ""
	}

	var arr arrow.Array
	switch inferDataType(data) {
	case csvBool:
		b := array.NewBooleanBuilder(r.mem)
		defer b.Release()
		vals := make([]bool, len(data))
		for i, v := range data {
			vals[i] = strings.EqualFold(v, trueStr)
		}
		b.AppendValues(vals, valid)
		arr = b.NewArray()
	case csvInt:
		b := array.NewInt64Builder(r.mem)
		defer b.Release()
		vals := make([]int64, len(data))
		for i, v := range data {
			if valid[i] {
				vals[i], _ = strconv.ParseInt(v, 10, 64)
			}
		}
		b.AppendValues(vals, valid)
		arr = b.NewArray()
	case csvFloat:
		b := array.NewFloat64Builder(r.mem)
		defer b.Release()
		vals := make([]float64, len(data))
		for i, v := range data {
			if valid[i] {
				vals[i], _ = strconv.ParseFloat(v, 64)
			}
		}
		b.AppendValues(vals, valid)
		arr = b.NewArray()
	default:
		b := array.NewStringBuilder(r.mem)
		defer b.Release()
		b.AppendValues(data, nil)
		arr = b.NewArray()
	}
	defer arr.Release()
	return series.FromArray(name, arr)
}

// inferDataType determines the most specific type that parses every
// non-empty value.
func inferDataType(data []string) csvType {
	canBeInt := true
	canBeFloat := true
	canBeBool := true
	hasNonEmptyValue := false

	for _, value := range data {
		if value == "" {
			continue
		}
		hasNonEmptyValue = true

		if canBeBool {
			lower := strings.ToLower(value)
			if lower != trueStr && lower != falseStr {
				canBeBool = false
			}
		}
		if canBeInt {
			if _, err := strconv.ParseInt(value, 10, 64); err != nil {
				canBeInt = false
			}
		}
		if canBeFloat {
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				canBeFloat = false
			}
		}
	}

	switch {
	case !hasNonEmptyValue:
		return csvString
	case canBeBool:
		return csvBool
	case canBeInt:
		return csvInt
	case canBeFloat:
		return csvFloat
	default:
		return csvString
	}
}

// Write writes the Dataset to CSV format. Nulls are written as empty fields.
func (w *CSVWriter) Write(ds *dataset.Dataset) error {
	csvWriter := csv.NewWriter(w.writer)
	if w.options.Delimiter != 0 {
		csvWriter.Comma = w.options.Delimiter
	}

	names := ds.Columns()
	if w.options.Header {
		if err := csvWriter.Write(names); err != nil {
			return fmt.Errorf("writing headers: %w", err)
		}
	}

	arrays := make([]arrow.Array, len(names))
	for j, name := range names {
		col, _ := ds.Column(name)
		arrays[j] = col.Array()
	}
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()

	row := make([]string, len(names))
	for i := 0; i < ds.Len(); i++ {
		for j, arr := range arrays {
			row[j] = valueAsString(arr, i)
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// valueAsString extracts a value from an array at the given index as a string
func valueAsString(arr arrow.Array, index int) string {
	if arr.IsNull(index) {
		return ""
	}
	switch typedArr := arr.(type) {
	case *array.String:
		return typedArr.Value(index)
	case *array.Int64:
		return strconv.FormatInt(typedArr.Value(index), 10)
	case *array.Int32:
		return strconv.FormatInt(int64(typedArr.Value(index)), 10)
	case *array.Float64:
		return strconv.FormatFloat(typedArr.Value(index), 'g', -1, 64)
	case *array.Float32:
		return strconv.FormatFloat(float64(typedArr.Value(index)), 'g', -1, 32)
	case *array.Boolean:
		if typedArr.Value(index) {
			return trueStr
		}
		return falseStr
	default:
		return ""
	}
}
