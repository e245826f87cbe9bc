package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/rolesched/internal/config"
	"github.com/me/rolesched/pkg/model"
)

// resources mirrors the daemon's /resources payload.
type resources struct {
	Sample     *model.ResourceSample `json:"sample"`
	Thresholds config.Thresholds     `json:"thresholds"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show host load and the state of every role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res resources
			if err := client.Get("/api/v1/resources", &res); err != nil {
				return fmt.Errorf("get resources: %w", err)
			}
			var roles []model.RoleStatus
			if err := client.Get("/api/v1/roles", &roles); err != nil {
				return fmt.Errorf("list roles: %w", err)
			}

			out := cmd.OutOrStdout()
			th := res.Thresholds
			if s := res.Sample; s != nil {
				fmt.Fprintf(out, "Resources (sampled %s):\n", humanize.Time(s.Timestamp))
				fmt.Fprintf(out, "  CPU:    %5.1f%% (limit %.0f%%)\n", s.CPUPercent, th.CPUPercent)
				fmt.Fprintf(out, "  Memory: %5.1f%% (limit %.0f%%)\n", s.MemPercent, th.MemoryPercent)
				fmt.Fprintf(out, "  Disk:   %5.1f%% (limit %.0f%%)\n", s.DiskPercent, th.DiskPercent)
			} else {
				fmt.Fprintln(out, "Resources: not sampled yet")
			}
			fmt.Fprintln(out)

			fmt.Fprintf(out, "%-22s  %-8s  %-8s  %-5s  %s\n", "ROLE", "PRIORITY", "STATE", "QUEUE", "STARTED")
			fmt.Fprintf(out, "%-22s  %-8s  %-8s  %-5s  %s\n", "----", "--------", "-----", "-----", "-------")
			for _, rs := range roles {
				fmt.Fprintf(out, "%-22s  %-8d  %-8s  %-5d  %s\n",
					rs.Role, rs.Priority, roleState(rs), rs.QueueDepth, startedAgo(rs.StartedAt))
			}
			return nil
		},
	}
}

func roleState(rs model.RoleStatus) string {
	switch {
	case rs.Active && rs.StopRequested:
		return "stopping"
	case rs.Active:
		return "active"
	default:
		return "inactive"
	}
}

func startedAgo(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}
