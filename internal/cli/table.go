package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mycelium-run/mycelium/internal/runstate"
)

// printTaskTable renders rs.Tasks sorted by task id (mirrors the teacher's
// status command, which prints one row per task via tabwriter).
func printTaskTable(cmd *cobra.Command, rs *runstate.RunState) {
	ids := make([]string, 0, len(rs.Tasks))
	for id := range rs.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "TASK\tSTATUS\tATTEMPTS\tNOTE\n")
	for _, id := range ids {
		t := rs.Tasks[id]
		note := ""
		if t.HumanReview != nil {
			note = t.HumanReview.Reason
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.ID, t.Status, t.Attempts, note)
	}
}
