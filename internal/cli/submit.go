package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/rolesched/pkg/model"
)

func newSubmitCmd() *cobra.Command {
	var (
		script      string
		scriptPath  string
		agent       string
		workflowID  string
		files       []string
		payloadFile string
	)

	cmd := &cobra.Command{
		Use:   "submit <role> <name>",
		Short: "Submit a task to a role's queue",
		Long: `Enqueue a task on the running daemon. The payload is built from
--payload (a YAML or JSON mapping) and then overridden by --script,
--script-path and --agent.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := model.ParseRole(args[0])
			if err != nil {
				return err
			}

			payload := map[string]any{}
			if payloadFile != "" {
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				if err := yaml.Unmarshal(data, &payload); err != nil {
					return fmt.Errorf("parse payload: %w", err)
				}
				logger.Debug("parsed payload", "keys", len(payload))
			}
			set := func(key, val string) {
				if val != "" {
					payload[key] = val
				}
			}
			set(model.PayloadScript, script)
			set(model.PayloadScriptPath, scriptPath)
			set(model.PayloadAgentID, agent)

			req := model.SubmitRequest{
				Name:       args[1],
				WorkflowID: workflowID,
				Files:      files,
			}
			if len(payload) > 0 {
				req.Payload = payload
			}

			var resp model.SubmitResponse
			if err := client.Post("/api/v1/roles/"+string(role)+"/tasks", req, &resp); err != nil {
				return fmt.Errorf("submit task: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task queued: %s (role: %s)\n", resp.TaskID, resp.Role)
			if resp.WorkflowID != "" {
				fmt.Fprintf(out, "  Workflow: %s\n", resp.WorkflowID)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&script, "script", "", "Script file name (agent simulations)")
	f.StringVar(&scriptPath, "script-path", "", "Script path relative to the base dir")
	f.StringVar(&agent, "agent", "", "Agent folder ID, e.g. AI_Agent_3")
	f.StringVar(&workflowID, "workflow", "", "Existing workflow ID to run under")
	f.StringSliceVar(&files, "file", nil, "File the task will touch (repeatable)")
	f.StringVarP(&payloadFile, "payload", "p", "", "Payload file (YAML/JSON)")
	return cmd
}
