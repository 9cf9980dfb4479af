package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/galileoChr/ai-model-builder-app/internal/api"
	"github.com/galileoChr/ai-model-builder-app/internal/core"
	"github.com/galileoChr/ai-model-builder-app/pkg/utils"
)

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// requestError picks the exit code for a failed API call.
func requestError(out *OutputFormatter, message string, err error) error {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return out.Error(ExitCommandError, message, err)
	}
	return out.Error(ExitCommandError, message+" (is the server running?)", err)
}

// parseConfigJSON decodes --config-json; empty means no job config.
func parseConfigJSON(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(s), &cfg); err != nil {
		return nil, fmt.Errorf("job config must be a JSON object: %w", err)
	}
	return cfg, nil
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	var configJSON string

	cmd := &cobra.Command{
		Use:   "submit <prompt>",
		Short: "Submit a model build job",
		Long: `Submit a model build job and print its id. The build runs in the
background; follow it with status and logs.

Example:
  modelforge submit "sentiment classifier for reviews"
  modelforge submit "small text model" --config-json '{"layers": 2, "heads": 4}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			cfg, err := parseConfigJSON(configJSON)
			if err != nil {
				return out.Error(ExitCommandError, "invalid --config-json", err)
			}
			resp, err := api.NewClient(rootOpts.Server).Submit(cmd.Context(), args[0], cfg)
			if err != nil {
				return requestError(out, "submit failed", err)
			}
			return out.Success(resp, func(w io.Writer) {
				fmt.Fprintln(w, resp.ID)
			})
		},
	}
	cmd.Flags().StringVar(&configJSON, "config-json", "", "job configuration as a JSON object")
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List jobs, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			jobs, err := api.NewClient(rootOpts.Server).List(cmd.Context())
			if err != nil {
				return requestError(out, "list failed", err)
			}
			return out.Success(jobs, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATE\tCREATED")
				for _, j := range jobs {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", j.ID, j.State, j.CreatedAt.Local().Format(time.DateTime))
				}
				tw.Flush()
			})
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status <job-id>",
		Short:         "Show a job's state",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			job, err := api.NewClient(rootOpts.Server).Status(cmd.Context(), args[0])
			if err != nil {
				return requestError(out, "status failed", err)
			}
			return out.Success(job, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s\n", job.ID, job.State)
				if job.Reason != "" {
					fmt.Fprintf(w, "reason: %s\n", job.Reason)
				}
			})
		},
	}
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "logs <job-id>",
		Short:         "Print a job's progress log",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			entries, err := api.NewClient(rootOpts.Server).Logs(cmd.Context(), args[0])
			if err != nil {
				return requestError(out, "logs failed", err)
			}
			return out.Success(entries, func(w io.Writer) {
				printEntries(w, entries)
			})
		},
	}
}

func printEntries(w io.Writer, entries []core.ProgressEntry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-6s %s\n", e.Timestamp.Local().Format(time.TimeOnly), formatProgress(e), e.Message)
	}
}

// NewArtifactCommand creates the artifact command.
func NewArtifactCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "artifact <job-id>",
		Short: "Fetch the artifact of a succeeded job",
		Long: `Fetch the artifact of a succeeded job. With --output the artifact is
written to a file and its sha256 is printed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			artifact, err := api.NewClient(rootOpts.Server).Artifact(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					return out.Error(ExitFailure, "no artifact (job unknown, still running or failed)", err)
				}
				return requestError(out, "artifact failed", err)
			}
			if output == "" {
				return out.Success(artifact, nil)
			}

			data, err := json.MarshalIndent(artifact, "", "  ")
			if err != nil {
				return out.Error(ExitFailure, "encode artifact", err)
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return out.Error(ExitCommandError, "write artifact", err)
			}
			sum, err := utils.HashFile(output)
			if err != nil {
				return out.Error(ExitCommandError, "hash artifact file", err)
			}
			return out.Success(map[string]string{"path": output, "sha256": sum}, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s\n", sum, output)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the artifact to this file")
	return cmd
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "cancel <job-id>",
		Short:         "Cancel a queued or running job",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			if err := api.NewClient(rootOpts.Server).Cancel(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, core.ErrJobFinished) {
					return out.Error(ExitFailure, "job already finished", err)
				}
				return requestError(out, "cancel failed", err)
			}
			return out.Success(map[string]string{"id": args[0], "status": "cancelling"}, func(w io.Writer) {
				fmt.Fprintf(w, "cancellation requested for %s\n", args[0])
			})
		},
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "verify <job-id>",
		Short:         "Check a job's log hash chain and artifact signature",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			res, err := api.NewClient(rootOpts.Server).Verify(cmd.Context(), args[0])
			if err != nil {
				return requestError(out, "verify failed", err)
			}
			if err := out.Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "log:      %s\n", verdict(res.LogVerified))
				fmt.Fprintf(w, "artifact: %s\n", verdict(res.ArtifactVerified))
				if res.Error != "" {
					fmt.Fprintf(w, "error:    %s\n", res.Error)
				}
			}); err != nil {
				return err
			}
			if res.Error != "" {
				return WrapExitError(ExitFailure, "verification failed", errors.New(res.Error))
			}
			return nil
		},
	}
}

func verdict(ok bool) string {
	if ok {
		return "ok"
	}
	return "not verified"
}
