package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/bingus/internal/daemon"
	"github.com/neboloop/bingus/internal/defaults"
)

var wakeClear bool

// WakeCmd shows or clears the pending self-wake
func WakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wake",
		Short: "Show the pending self-wake",
		Long: `Show the wake the assistant has scheduled for itself. With --clear the
schedule is removed; a running daemon notices the change and disarms.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			dataDir, err := defaults.EnsureDataDir(c.Storage.DataDir)
			if err != nil {
				return err
			}
			store := daemon.NewFileScheduleStore(defaults.WakePath(dataDir))
			if wakeClear {
				if err := store.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Wake cleared.")
				return nil
			}
			return printWake(cmd.OutOrStdout(), store, time.Now())
		},
	}
	cmd.Flags().BoolVar(&wakeClear, "clear", false, "remove the pending wake")
	return cmd
}

func printWake(w io.Writer, store daemon.ScheduleStore, now time.Time) error {
	sched, err := store.Read()
	if err != nil {
		return err
	}
	if sched == nil {
		fmt.Fprintln(w, "No wake scheduled.")
		return nil
	}
	when := sched.FireAt.Local().Format("Mon 2 Jan 2006 15:04")
	if d := sched.FireAt.Sub(now); d > 0 {
		fmt.Fprintf(w, "Next wake %s (in %s): %s\n", when, d.Round(time.Minute), sched.Reason)
	} else {
		fmt.Fprintf(w, "Overdue wake %s: %s\n", when, sched.Reason)
	}
	return nil
}
