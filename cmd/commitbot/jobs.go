package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"commitbot/internal/app"
	"commitbot/internal/eventbus"
	"commitbot/internal/task/scheduler"
	logx "commitbot/pkg/logx"
)

// openCore builds the transport-free core for one-shot commands.
func openCore(ctx context.Context, opts *rootOptions) (*app.Core, error) {
	_, cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log := logx.NewConsole(cfg.Logging.Level)
	gw, err := app.OutboundGateway(cfg, log)
	if err != nil {
		return nil, err
	}
	return app.NewCore(ctx, cfg, gw, eventbus.New(), log)
}

// tickCmd is for deployments where an external cron wakes the bot instead of
// a long-running process.
func tickCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run every due job once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := openCore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer core.Close()

			rep, err := core.Sched.CheckAndRunDueJobs(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tOUTCOME\tTOOK\tERROR")
			for _, j := range rep.Jobs {
				fmt.Fprintf(tw, "%s\t%s\t%dms\t%s\n", j.Name, j.Outcome, j.TookMS, j.Error)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed := rep.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d job(s) failed: %v", len(failed), failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print the run report as JSON")
	return cmd
}

func triggerCmd(opts *rootOptions) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Run one job now, due or not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := openCore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer core.Close()

			res, err := core.Sched.TriggerJobAs(cmd.Context(), args[0], scheduler.Actor{Name: actor, Source: "cli"})
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", res.Name, res.Message, res.Took.Round(time.Millisecond))
			return err
		},
	}
	cmd.Flags().StringVar(&actor, "as", userName(), "actor recorded in the audit log")
	return cmd
}

func jobsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show the schedule of every job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := openCore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer core.Close()

			st, err := core.Sched.AllJobsStatus(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tEVERY\tLAST RUN\tDUE\tNEXT IN")
			for _, s := range st {
				last := "never"
				if s.LastRunAt.After(scheduler.Epoch) {
					last = s.LastRunAt.Local().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", s.Name, s.Interval, last, s.IsDue, s.NextRunIn.Round(time.Second))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func userName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
