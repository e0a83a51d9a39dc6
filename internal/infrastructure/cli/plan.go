package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pageforge/buildstream/internal/infrastructure/api"
)

var planJSON bool

var planCmd = &cobra.Command{
	Use:   "plan <build-id>",
	Short: "Fetch and print the current build plan snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, err := loadServices()
		if err != nil {
			return err
		}

		plan, err := svcs.API.GetPlan(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, api.ErrBuildNotFound) {
				return fmt.Errorf("build %q not found", args[0])
			}
			return err
		}

		out := cmd.OutOrStdout()
		if planJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		}

		fmt.Fprintf(out, "Build %s (%s): %d/%d tasks complete, %d failed\n\n",
			plan.BuildID, plan.Status.DisplayName(),
			plan.CompletedTasks, plan.TotalTasks, plan.FailedTasks)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tCATEGORY\tTASK\tID")
		for _, t := range plan.Tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Status.DisplayName(), t.Category, t.Name, t.ID)
		}
		return w.Flush()
	},
}

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print the raw plan as JSON")
	RootCmd.AddCommand(planCmd)
}
