package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show archive statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	s, path := openStore()
	defer s.Close()

	stats, err := s.Stats(cmd.Context(), path)
	if err != nil {
		exitErr("stats", err)
	}

	if textOutput() {
		fmt.Printf("database:  %s (%d bytes)\n", stats.DBPath, stats.DBSizeBytes)
		fmt.Printf("sessions:  %d total, %d finished, %d degraded\n",
			stats.TotalSessions, stats.FinishedSessions, stats.DegradedSessions)
		fmt.Printf("uploads:   %d events\n", stats.UploadEvents)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tOK\tSKIPPED\tFAILED")
		for _, c := range stats.Uploads {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", c.Category, c.OK, c.Skipped, c.Failed)
		}
		w.Flush()
		return
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
