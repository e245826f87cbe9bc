package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/rolesched/pkg/model"
)

type locksView struct {
	Locks     []model.FileLock `json:"locks"`
	Workflows []model.Workflow `json:"workflows"`
}

func newLocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locks",
		Short: "List file tracker locks and active workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var v locksView
			if err := client.Get("/api/v1/locks", &v); err != nil {
				return fmt.Errorf("list locks: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(v.Locks) == 0 {
				fmt.Fprintln(out, "No file locks held.")
			} else {
				fmt.Fprintf(out, "%-40s  %-5s  %-20s  %s\n", "PATH", "MODE", "HOLDER", "ACQUIRED")
				for _, l := range v.Locks {
					holder := string(l.LockedBy)
					if len(l.Readers) > 1 {
						names := make([]string, len(l.Readers))
						for i, r := range l.Readers {
							names[i] = string(r)
						}
						holder = strings.Join(names, ",")
					}
					fmt.Fprintf(out, "%-40s  %-5s  %-20s  %s\n", l.Path, l.Mode, holder, ago(l.Timestamp))
				}
			}

			if len(v.Workflows) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintf(out, "%-50s  %-12s  %-8s  %s\n", "WORKFLOW", "STATE", "PRIORITY", "STARTED")
				for _, wf := range v.Workflows {
					fmt.Fprintf(out, "%-50s  %-12s  %-8d  %s\n", wf.ID, wf.State, wf.Priority, ago(wf.StartTime))
				}
			}
			return nil
		},
	}
}

// ago renders an RFC 3339 timestamp relative to now, or the raw value when
// it does not parse.
func ago(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}
