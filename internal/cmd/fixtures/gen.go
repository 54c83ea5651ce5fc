package fixtures

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"github.com/spf13/cobra"
	"io"
	"math/rand"
	"os"
	"strconv"
	"time"
)

func newGenerateCommand() *cobra.Command {
	var records int
	var out string
	var duplicatePercent int
	var compress bool

	var cmd = &cobra.Command{
		Use:   "generate",
		Short: "Generates a CSV fixture for exercising file and object store connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if duplicatePercent < 0 || duplicatePercent > 100 {
				return fmt.Errorf("duplicates must be between 0 and 100: %d", duplicatePercent)
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()

			var w io.Writer = f
			var gz *gzip.Writer
			if compress {
				gz = gzip.NewWriter(f)
				w = gz
			}

			cw := csv.NewWriter(w)
			if err := cw.Write([]string{"id", "name", "email", "total", "ts"}); err != nil {
				return err
			}

			for i := 0; i < records; i++ {
				id := i + 1
				// Re-issue an earlier id to simulate source replays.
				if duplicatePercent > 0 && i > 0 && rand.Intn(100) < duplicatePercent {
					id = rand.Intn(i) + 1
				}
				row := []string{
					strconv.Itoa(id),
					fmt.Sprintf("name-%d", id),
					fmt.Sprintf("user%d@example.com", id),
					fmt.Sprintf("%.2f", rand.Float64()*1000),
					time.Now().UTC().Format(time.RFC3339),
				}
				if err := cw.Write(row); err != nil {
					return err
				}
			}

			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
			if gz != nil {
				if err := gz.Close(); err != nil {
					return err
				}
			}

			fmt.Printf("Wrote %d records to %s\n", records, out)
			return nil
		},
	}

	cmd.Flags().IntVarP(&records, "records", "r", 10, "Number of records to generate")
	cmd.Flags().StringVarP(&out, "out", "o", "fixture.csv", "Path of the CSV file to write")
	cmd.Flags().IntVarP(&duplicatePercent, "duplicates", "d", 0, "Percent of rows that repeat an earlier id")
	cmd.Flags().BoolVarP(&compress, "gzip", "z", false, "Gzip the output file")
	return cmd
}
