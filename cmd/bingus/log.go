package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/bingus/internal/db"
	"github.com/neboloop/bingus/internal/defaults"
	"github.com/neboloop/bingus/internal/inbox"
	"github.com/neboloop/bingus/internal/logging"
)

var (
	logLimit   int
	logStreams []string
	logAll     bool
)

// LogCmd prints recent message log entries
func LogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print recent messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			streams := inbox.VisibleStreams
			switch {
			case logAll:
				streams = inbox.ConversationStreams
			case len(logStreams) > 0:
				streams = nil
				for _, name := range logStreams {
					st, err := inbox.ParseStream(name)
					if err != nil {
						return err
					}
					streams = append(streams, st)
				}
			}

			dataDir, err := defaults.EnsureDataDir(c.Storage.DataDir)
			if err != nil {
				return err
			}
			logging.Disable()
			sqlDB, err := db.Open(c.DBPath(dataDir))
			logging.Enable()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			ctx := context.Background()
			store, err := inbox.New(ctx, sqlDB)
			if err != nil {
				return err
			}
			entries, err := store.Read(ctx, streams, logLimit)
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().StringSliceVar(&logStreams, "stream", nil, "streams to show (user, assistant, system, tool-call, tool-result)")
	cmd.Flags().BoolVar(&logAll, "all", false, "include tool calls and results")
	return cmd
}

func printEntries(w io.Writer, entries []inbox.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for _, e := range entries {
		ts := time.UnixMilli(e.CreatedAt).Local().Format("2006-01-02 15:04:05")
		text := strings.ReplaceAll(e.Payload, "\n", "\n    ")
		fmt.Fprintf(w, "%s [%s] %s\n", ts, e.Stream, text)
	}
}
