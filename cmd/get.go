package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mediaget/media-downloader/internal/events"
	"github.com/mediaget/media-downloader/internal/model"
	"github.com/mediaget/media-downloader/internal/resolve"
	"github.com/mediaget/media-downloader/internal/scheduler"
)

var (
	getFormat      string
	getPriority    string
	getExpandList  bool
	getPlaylistMax int
)

var getCmd = &cobra.Command{
	Use:   "get URL [URL...]",
	Short: "Download one or more URLs",
	Long: `Resolve each URL into media variants, pick one and download it into
the configured directory. Playlist URLs are expanded into their items when
--playlist is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().StringVarP(&getFormat, "format", "f", "", `variant selector: "best" (default), "worst" or a format ID`)
	getCmd.Flags().StringVarP(&getPriority, "priority", "p", "normal", "queue priority: high, normal or low")
	getCmd.Flags().BoolVar(&getExpandList, "playlist", false, "expand playlist URLs into their items")
	getCmd.Flags().IntVar(&getPlaylistMax, "playlist-max", 0, "max playlist items to download (0 = all)")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	urls, err := expandPlaylists(cmd.Context(), app.registry, args)
	if err != nil {
		return err
	}

	sub := app.bus.Subscribe(events.DefaultBuffer, nil)
	defer sub.Close()

	priority := model.ParsePriority(getPriority)
	pending := make(map[string]bool)
	for _, u := range urls {
		id, err := app.sched.Submit(scheduler.SubmitRequest{
			URL:             u,
			VariantSelector: getFormat,
			Priority:        priority,
		})
		if err != nil {
			log.Printf("Skipping %s: %v", u, err)
			continue
		}
		pending[id] = true
	}
	if len(pending) == 0 {
		return fmt.Errorf("nothing to download")
	}

	failed := watchJobs(cmd.Context(), app, sub, pending)
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(urls))
	}
	return nil
}

// expandPlaylists replaces playlist URLs with their item URLs when requested.
func expandPlaylists(ctx context.Context, registry *resolve.Registry, urls []string) ([]string, error) {
	if !getExpandList {
		return urls, nil
	}
	var out []string
	for _, u := range urls {
		res, err := registry.Lookup(u)
		if err != nil {
			out = append(out, u)
			continue
		}
		expander, ok := res.(resolve.PlaylistExpander)
		if !ok || !expander.IsPlaylist(u) {
			out = append(out, u)
			continue
		}
		items, err := expander.ExpandPlaylist(ctx, u, getPlaylistMax)
		if err != nil {
			return nil, fmt.Errorf("cannot expand playlist %s: %w", u, err)
		}
		fmt.Printf("Playlist %s: %d items\n", u, len(items))
		out = append(out, items...)
	}
	return out, nil
}

// watchJobs renders one aggregate progress bar across all submitted jobs and
// prints a line per terminal transition. Returns the number of failures.
func watchJobs(ctx context.Context, app *app, sub *events.Subscription, pending map[string]bool) int {
	bar := progressbar.DefaultBytes(-1, "downloading")
	bytesByJob := make(map[string]int64)
	totalByJob := make(map[string]int64)
	failed := 0

	refresh := func() {
		var done, total int64
		haveAll := true
		for id := range pending {
			done += bytesByJob[id]
			if t := totalByJob[id]; t > 0 {
				total += t
			} else {
				haveAll = false
			}
		}
		for id := range bytesByJob {
			if !pending[id] {
				done += bytesByJob[id]
				total += totalByJob[id]
			}
		}
		if haveAll && total > 0 && bar.GetMax64() != total {
			bar.ChangeMax64(total)
		}
		bar.Set64(done)
	}

	for len(pending) > 0 {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return failed
			}
			if !pending[e.JobID] && e.Kind == events.KindStatus && !e.Status.IsTerminal() {
				continue
			}
			switch e.Kind {
			case events.KindProgress:
				bytesByJob[e.JobID] = e.Bytes
				if e.Total > 0 {
					totalByJob[e.JobID] = e.Total
				}
				refresh()
			case events.KindStatus:
				if !e.Status.IsTerminal() {
					continue
				}
				delete(pending, e.JobID)
				bar.Clear()
				switch e.Status {
				case model.StatusCompleted:
					if job, err := app.sched.Get(e.JobID); err == nil {
						fmt.Printf("Completed: %s (%s)\n", job.DestinationPath, model.FormatBytes(job.BytesDownloaded))
					}
				case model.StatusFailed:
					failed++
					fmt.Printf("Failed: %s\n", e.Reason)
				case model.StatusCancelled:
					fmt.Println("Cancelled")
				}
			}
		case <-ctx.Done():
			// Interrupted: pause what is running so partial bytes survive.
			for id := range pending {
				if err := app.sched.Pause(id); err != nil {
					log.Printf("Failed to pause job %s: %v", id, err)
				}
			}
			waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			app.sched.WaitIdle(waitCtx)
			cancel()
			return failed
		}
	}
	return failed
}
