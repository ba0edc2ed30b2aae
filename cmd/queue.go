package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mediaget/media-downloader/internal/events"
	"github.com/mediaget/media-downloader/internal/model"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the persisted job queue",
	Long:  `List the jobs in the persistent queue. Requires --state (or state_path in the config).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		if app.store == nil {
			return fmt.Errorf("no job database configured, pass --state")
		}
		jobs, err := app.store.LoadAll()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tPRIORITY\tTITLE")
		for _, j := range jobs {
			progress := model.FormatBytes(j.BytesDownloaded)
			if pct := j.PercentDone(); pct >= 0 {
				progress = fmt.Sprintf("%d%% (%s)", pct, progress)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				shortID(j.ID), j.Status, progress, j.Priority, j.DisplayTitle())
		}
		return w.Flush()
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [JOB-ID...]",
	Short: "Resume paused jobs from the persistent queue",
	Long: `Load the persistent queue and run the given paused jobs to completion.
With no arguments, every paused and queued job is resumed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		if app.store == nil {
			return fmt.Errorf("no job database configured, pass --state")
		}

		sub := app.bus.Subscribe(events.DefaultBuffer, nil)
		defer sub.Close()

		if err := app.restore(); err != nil {
			return err
		}

		pending := make(map[string]bool)
		for _, j := range app.sched.Snapshot() {
			if len(args) > 0 && !matchesAny(j.ID, args) {
				continue
			}
			switch j.Status {
			case model.StatusPaused:
				if err := app.sched.Resume(j.ID); err != nil {
					return fmt.Errorf("cannot resume %s: %w", shortID(j.ID), err)
				}
				pending[j.ID] = true
			case model.StatusQueued, model.StatusResolving, model.StatusDownloading:
				pending[j.ID] = true
			}
		}
		if len(pending) == 0 {
			fmt.Println("Nothing to resume")
			return nil
		}

		failed := watchJobs(cmd.Context(), app, sub, pending)
		if failed > 0 {
			return fmt.Errorf("%d downloads failed", failed)
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove JOB-ID [JOB-ID...]",
	Short: "Remove finished jobs from the persistent queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		if app.store == nil {
			return fmt.Errorf("no job database configured, pass --state")
		}
		jobs, err := app.store.LoadAll()
		if err != nil {
			return err
		}

		for _, j := range jobs {
			if !matchesAny(j.ID, args) {
				continue
			}
			if !j.Status.IsTerminal() {
				return fmt.Errorf("job %s is %s, cancel it first", shortID(j.ID), j.Status)
			}
			if err := app.store.DeleteJob(j.ID); err != nil {
				return fmt.Errorf("cannot remove %s: %w", shortID(j.ID), err)
			}
			fmt.Printf("Removed %s\n", shortID(j.ID))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(removeCmd)
}

// shortID trims UUIDs for display
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// matchesAny accepts both full IDs and the short display prefix
func matchesAny(id string, args []string) bool {
	for _, a := range args {
		if id == a || (len(a) >= 4 && len(a) <= len(id) && id[:len(a)] == a) {
			return true
		}
	}
	return false
}
