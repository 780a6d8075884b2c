package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunqar-kz/qoldau/internal/report"
	"github.com/sunqar-kz/qoldau/internal/store"
)

func newReportCmd() *cobra.Command {
	var (
		days int
		out  string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a PDF report over archived sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if out == "" {
				out = fmt.Sprintf("support-report-%s.pdf", time.Now().Format("2006-01-02"))
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()

			gen := report.NewGenerator(store.NewSQLiteSessionStore(db), log)
			summary, err := gen.Generate(f, time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s: %d sessions, %d messages, %d escalated\n",
				out, summary.Sessions, summary.Turns, summary.Escalated)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "reporting period in days")
	cmd.Flags().StringVar(&out, "out", "", "output file (default support-report-<date>.pdf)")
	return cmd
}
