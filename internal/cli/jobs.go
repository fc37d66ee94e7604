package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conthunt/streamcore/internal/model"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs [kind] [id]",
	Short: "Show the recorded state transitions of a job",
	Long: `Reads a job's transitions from the NATS job stream. Kinds are search,
load_more and chat_turn. Requires NATS_URL.`,
	Args: cobra.ExactArgs(2),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 16, "maximum number of transitions")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	kind := model.JobKind(args[0])
	switch kind {
	case model.JobKindSearch, model.JobKindLoadMore, model.JobKindChatTurn:
	default:
		return fmt.Errorf("unknown job kind %q", args[0])
	}

	if rt.publisher == nil {
		return errors.New("job telemetry is not configured, set NATS_URL")
	}

	jobs, err := rt.publisher.History(cmd.Context(), kind, args[1], jobsLimit)
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), jobs, func(w io.Writer) error {
		if len(jobs) == 0 {
			fmt.Fprintln(w, "No transitions recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tSTATUS\tERROR")
		for _, job := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", job.UpdatedAt.Format(time.RFC3339), job.Status, job.Error)
		}
		return tw.Flush()
	})
}
