package main

import (
	"fmt"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"github.com/yourusername/debridget/internal/domain"
)

const watchTemplate = `{{string . "prefix"}}{{bar . }} {{percent . }} {{string . "status"}}`

var watchCmd = &cobra.Command{
	Use:   "watch [id]",
	Short: "Follow a job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		interval, _ := cmd.Flags().GetDuration("interval")
		sync, _ := cmd.Flags().GetBool("sync")

		job, err := api.getJob(args[0])
		if err != nil {
			return err
		}

		bar := pb.ProgressBarTemplate(watchTemplate).Start(100)
		bar.Set("prefix", truncate(jobName(job), 30)+" ")

		for {
			updateBar(bar, job)
			if job.IsTerminal() {
				break
			}

			time.Sleep(interval)
			if sync {
				job, err = api.jobAction(args[0], "sync")
			} else {
				job, err = api.getJob(args[0])
			}
			if err != nil {
				bar.Finish()
				return err
			}
		}

		bar.Finish()
		fmt.Printf("Job %s finished: %s\n", job.ID, renderStatus(job.Status))
		if msg := job.ErrorMessage(); msg != "" && job.Status == domain.StatusFailed {
			fmt.Println(errorStyle.Render(msg))
		}
		return nil
	},
}

func updateBar(bar *pb.ProgressBar, job *domain.Job) {
	bar.SetCurrent(int64(job.Progress))
	bar.Set("status", string(job.Status))
}

func init() {
	watchCmd.Flags().Duration("interval", 2*time.Second, "Polling interval")
	watchCmd.Flags().Bool("sync", false, "Ask the server to sync on every poll instead of relying on its poller")
}
