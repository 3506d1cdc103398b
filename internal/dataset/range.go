package dataset

import "fmt"

// Chunk sizing bounds used by PlanChunks.
const (
	chunksPerWorker = 3
	minChunkSize    = 500
	maxChunkSize    = 10000
)

// Range is a half-open interval [Start, End) of row positions.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of rows in the range.
func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Clamp restricts the range to [0, rows).
func (r Range) Clamp(rows int) Range {
	r.Start = min(max(r.Start, 0), rows)
	r.End = min(max(r.End, r.Start), rows)
	return r
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Split divides rows into n contiguous, disjoint ranges covering every row.
// Earlier ranges receive the remainder rows; empty ranges are never
// produced, so fewer than n ranges are returned when rows < n.
func Split(rows, n int) []Range {
	if rows <= 0 {
		return nil
	}
	n = min(max(n, 1), rows)

	ranges := make([]Range, 0, n)
	base, extra := rows/n, rows%n
	start := 0
	for i := range n {
		size := base
		if i < extra {
			size++
		}
		ranges = append(ranges, Range{Start: start, End: start + size})
		start += size
	}
	return ranges
}

// Chunks divides rows into consecutive ranges of at most size rows.
func Chunks(rows, size int) []Range {
	if rows <= 0 {
		return nil
	}
	if size <= 0 {
		size = rows
	}
	ranges := make([]Range, 0, (rows+size-1)/size)
	for start := 0; start < rows; start += size {
		ranges = append(ranges, Range{Start: start, End: min(start+size, rows)})
	}
	return ranges
}

// PlanChunks determines the chunk size for processing rows with the given
// number of workers. A positive configured size wins; otherwise it aims for
// a few chunks per worker within fixed bounds.
func PlanChunks(rows, workers, configured int) int {
	if configured > 0 {
		return configured
	}
	workers = max(workers, 1)

	size := rows / (workers * chunksPerWorker)
	size = max(size, minChunkSize)
	size = min(size, maxChunkSize)
	return size
}

// Ranges splits the dataset into n disjoint logical row ranges.
func (d *Dataset) Ranges(n int) []Range {
	return Split(d.rows, n)
}

// Chunks splits the dataset into ranges of at most size rows.
func (d *Dataset) Chunks(size int) []Range {
	return Chunks(d.rows, size)
}
