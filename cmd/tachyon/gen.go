package main

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fatih/color"
	"github.com/paveg/tachyon"
	"github.com/paveg/tachyon/internal/dataset"
	"github.com/paveg/tachyon/internal/io"
	"github.com/spf13/cobra"
)

func newGenCmd(a *app) *cobra.Command {
	var (
		rows int
		seed uint64
	)
	cmd := &cobra.Command{
		Use:   "gen OUTPUT",
		Short: "Write a synthetic event dataset (.parquet, .arrow or .csv)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if rows < 0 {
				return fmt.Errorf("rows must be non-negative, got %d", rows)
			}
			ds, err := GenerateEvents(rows, seed, memory.DefaultAllocator)
			if err != nil {
				return err
			}
			defer ds.Release()
			if err := io.WriteFile(args[0], ds); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %d rows, columns %v -> %s\n", color.GreenString("wrote"), ds.Len(), ds.Columns(), args[0])
			return nil
		},
	}
	cmd.Flags().IntVarP(&rows, "rows", "n", 100_000, "number of rows")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	return cmd
}

// GenerateEvents builds a reproducible dataset of collision-like events:
// an entry number, exponential pt, uniform eta and phi, a muon count, a
// flavor label, a trigger bit and a weight.
func GenerateEvents(n int, seed uint64, mem memory.Allocator) (*tachyon.Dataset, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	entry := make([]int64, n)
	pt := make([]float64, n)
	eta := make([]float64, n)
	phi := make([]float64, n)
	nmuon := make([]int32, n)
	flavor := make([]string, n)
	trigger := make([]bool, n)
	weight := make([]float64, n)
	flavors := [...]string{"e", "mu", "tau"}
	for i := range n {
		entry[i] = int64(i)
		pt[i] = rng.ExpFloat64() * 25
		eta[i] = 5*rng.Float64() - 2.5
		phi[i] = 2*math.Pi*rng.Float64() - math.Pi
		nmuon[i] = int32(rng.IntN(4))
		flavor[i] = flavors[rng.IntN(len(flavors))]
		trigger[i] = rng.Float64() < 0.8
		weight[i] = 0.5 + rng.Float64()
	}
	return tachyon.NewDataset(
		tachyon.NewSeries(dataset.EntryColumn, entry, mem),
		tachyon.NewSeries("pt", pt, mem),
		tachyon.NewSeries("eta", eta, mem),
		tachyon.NewSeries("phi", phi, mem),
		tachyon.NewSeries("nmuon", nmuon, mem),
		tachyon.NewSeries("flavor", flavor, mem),
		tachyon.NewSeries("trigger", trigger, mem),
		tachyon.NewSeries("weight", weight, mem),
	)
}
