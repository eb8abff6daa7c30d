package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export archived sessions as JSON",
		Long:  "Export every archived session, oldest first. Use --ndjson for one session per line.",
		Run:   runExport,
	}

	cmd.Flags().StringP("out", "o", "", "Write to file instead of stdout")
	cmd.Flags().Bool("ndjson", false, "Newline-delimited JSON")
	cmd.Flags().Bool("records-only", false, "Only export the collected records")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")
	ndjson, _ := cmd.Flags().GetBool("ndjson")
	recordsOnly, _ := cmd.Flags().GetBool("records-only")

	s, _ := openStore()
	defer s.Close()

	sessions, err := s.ExportAll(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}

	items := make([]interface{}, len(sessions))
	for i, sess := range sessions {
		if recordsOnly {
			items[i] = sess.Record
		} else {
			items[i] = sess
		}
	}

	w := os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			exitErr("create output", err)
		}
		defer f.Close()
		w = f
	}

	if ndjson {
		enc := json.NewEncoder(w)
		for _, it := range items {
			if err := enc.Encode(it); err != nil {
				exitErr("write", err)
			}
		}
		return
	}

	b, _ := json.MarshalIndent(items, "", "  ")
	fmt.Fprintln(w, string(b))
}
