package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rcliao/dst-flow/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect archived sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		Run:   runSessionsList,
	}
	list.Flags().IntP("limit", "l", 20, "Max results")
	list.Flags().Bool("finished", false, "Only finished sessions")
	list.Flags().Bool("degraded", false, "Only sessions that ran without the backend")
	list.Flags().Bool("ids-only", false, "Only output archive ids")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one archived session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsGet,
	}
	get.Flags().Bool("uploads", false, "Include upload outcomes")

	cmd.AddCommand(list, get)
	RootCmd.AddCommand(cmd)
}

func runSessionsList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	finished, _ := cmd.Flags().GetBool("finished")
	degraded, _ := cmd.Flags().GetBool("degraded")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	s, _ := openStore()
	defer s.Close()

	sessions, err := s.List(cmd.Context(), store.ListParams{
		Limit:        limit,
		FinishedOnly: finished,
		DegradedOnly: degraded,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, sess := range sessions {
			fmt.Println(sess.ID)
		}
		return
	}

	if textOutput() {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPARTICIPANT\tFINISHED\tDEGRADED\tUPDATED")
		for _, sess := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", sess.ID, sess.ParticipantID,
				sess.Finished, sess.Degraded, sess.UpdatedAt.Format(time.RFC3339))
		}
		w.Flush()
		return
	}

	b, _ := json.MarshalIndent(sessions, "", "  ")
	fmt.Println(string(b))
}

func runSessionsGet(cmd *cobra.Command, args []string) {
	withUploads, _ := cmd.Flags().GetBool("uploads")

	s, _ := openStore()
	defer s.Close()

	sess, err := s.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}

	if !withUploads {
		b, _ := json.MarshalIndent(sess, "", "  ")
		fmt.Println(string(b))
		return
	}

	events, err := s.UploadEvents(cmd.Context(), sess.ID)
	if err != nil {
		exitErr("uploads", err)
	}
	b, _ := json.MarshalIndent(struct {
		*store.Session
		Uploads []store.UploadEvent `json:"uploads"`
	}{sess, events}, "", "  ")
	fmt.Println(string(b))
}
