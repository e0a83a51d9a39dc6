package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pageforge/buildstream/internal/domain/build"
	"github.com/pageforge/buildstream/internal/domain/events"
	"github.com/pageforge/buildstream/internal/domain/session"
)

var (
	followProject string
	followResume  bool
)

var followCmd = &cobra.Command{
	Use:   "follow [build-id]",
	Short: "Attach to a build and print progress until it finishes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, err := loadServices()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		switch {
		case followResume:
			if err := svcs.Session.Resume(ctx); err != nil {
				return err
			}
			if svcs.Session.Session() == nil {
				fmt.Println("No running build to resume.")
				return nil
			}
		case len(args) == 1:
			if err := svcs.Session.StartBuild(ctx, followProject, args[0]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("build id required unless --resume is set")
		}

		printer := newProgressPrinter(cmd.OutOrStdout())
		unsubscribe := svcs.Session.Projection().Subscribe(func() {
			printer.render(svcs.Session.Projection().Plan(), svcs.Session.Projection())
		})
		defer unsubscribe()

		svcs.Session.Wait(ctx)
		svcs.Session.Stop()

		if plan := svcs.Session.Projection().Plan(); plan != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Build %s: %s (%d/%d tasks, %d failed)\n",
				plan.BuildID, plan.Status.DisplayName(),
				plan.CompletedTasks, plan.TotalTasks, plan.FailedTasks)
		}
		return nil
	},
}

// progressPrinter prints each task status transition exactly once, plus
// stream status changes as they happen.
type progressPrinter struct {
	mu         sync.Mutex
	out        io.Writer
	seen       map[string]build.TaskStatus
	lastStream session.StreamStatus
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, seen: make(map[string]build.TaskStatus)}
}

func (pp *progressPrinter) render(plan *build.Plan, source *events.BuildProjection) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if status, errText := source.StreamStatus(); status != pp.lastStream {
		pp.lastStream = status
		line := fmt.Sprintf("stream: %s", status)
		if errText != "" {
			line += " (" + errText + ")"
		}
		fmt.Fprintln(pp.out, line)
	}

	if plan == nil {
		return
	}
	for _, t := range plan.Tasks {
		if prev, ok := pp.seen[t.ID]; ok && prev == t.Status {
			continue
		}
		pp.seen[t.ID] = t.Status
		line := fmt.Sprintf("[%d/%d] %-8s %s", plan.CompletedTasks, plan.TotalTasks, t.Status.DisplayName(), t.Name)
		if t.Status.IsFailed() && t.Error != "" {
			line += ": " + t.Error
		}
		fmt.Fprintln(pp.out, line)
	}
}

func init() {
	followCmd.Flags().StringVarP(&followProject, "project", "p", "default", "project the build belongs to")
	followCmd.Flags().BoolVar(&followResume, "resume", false, "resume the last journalled build")
	RootCmd.AddCommand(followCmd)
}
