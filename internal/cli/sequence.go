package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/dst-flow/internal/sequence"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Show or validate the page/slide sequence",
		Long:  "Print the sequence the server would run. Pass a file to validate it instead of the configured one.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runSequence,
	}

	RootCmd.AddCommand(cmd)
}

func runSequence(cmd *cobra.Command, args []string) {
	file := loadConfig().Config().Study.SequenceFile
	if len(args) == 1 {
		file = args[0]
	}

	seq, err := loadSequence(file)
	if err != nil {
		exitErr("sequence", err)
	}

	if textOutput() {
		for i, p := range seq.Pages {
			fmt.Printf("%d %s\n", i, p)
			for j, s := range seq.Slides[p] {
				fmt.Printf("  %d.%d %s\n", i, j, s)
			}
		}
		fmt.Printf("%d pages, %d slides\n", len(seq.Pages), seq.TotalSlides())
		return
	}

	b, _ := json.MarshalIndent(struct {
		sequence.Config
		TotalSlides int `json:"total_slides"`
	}{seq, seq.TotalSlides()}, "", "  ")
	fmt.Println(string(b))
}

// loadSequence reads file, or returns the built-in sequence when file is empty.
func loadSequence(file string) (sequence.Config, error) {
	if file == "" {
		return sequence.Default(), nil
	}
	return sequence.Load(file)
}
