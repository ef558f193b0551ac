package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/yourusername/debridget/internal/domain"
)

var (
	serverURL   string
	configFile  string
	noAutoStart bool
	api         *client

	rootCmd = &cobra.Command{
		Use:           "debridget",
		Short:         "debridget CLI - debrid download manager",
		Long:          `A command-line interface for starting and tracking remote downloads on debrid services.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			api = newClient(strings.TrimRight(serverURL, "/"))
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file passed to an auto-started server")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	addCmd.Flags().StringP("provider", "p", "mock", "Provider to start the job on")
	addCmd.Flags().StringToString("option", nil, "Provider option key=value (repeatable)")
	listCmd.Flags().StringP("status", "s", "", "Filter by status")
	listCmd.Flags().String("provider", "", "Filter by provider")
	listCmd.Flags().BoolP("active", "a", false, "Only jobs that are not finished")

	rootCmd.AddCommand(addCmd, listCmd, getCmd, syncCmd, cancelCmd, linksCmd,
		deleteCmd, clearCmd, statsCmd, providersCmd, testProviderCmd, watchCmd, configCmd)
}

// ensureServer starts the server when needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(api, configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

var addCmd = &cobra.Command{
	Use:   "add [url|magnet]",
	Short: "Start a job from a URL or magnet link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()

		provider, _ := cmd.Flags().GetString("provider")
		options, _ := cmd.Flags().GetStringToString("option")

		payload := payloadFromArg(args[0])
		if len(options) > 0 {
			payload.Options = make(map[string]interface{}, len(options))
			for k, v := range options {
				payload.Options[k] = parseOptionValue(v)
			}
		}

		job, err := api.createJob(provider, payload)
		if err != nil {
			return err
		}

		if job.Status == domain.StatusFailed {
			fmt.Println(errorStyle.Render("Job failed to start"))
			fmt.Printf("ID:    %s\n", job.ID)
			fmt.Printf("Error: %s\n", job.ErrorMessage())
			return nil
		}

		fmt.Println(okStyle.Render("Job started"))
		fmt.Printf("ID:     %s\n", job.ID)
		fmt.Printf("Status: %s\n", renderStatus(job.Status))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()

		query := url.Values{}
		if s, _ := cmd.Flags().GetString("status"); s != "" {
			query.Set("status", s)
		}
		if p, _ := cmd.Flags().GetString("provider"); p != "" {
			query.Set("provider", p)
		}
		if active, _ := cmd.Flags().GetBool("active"); active {
			query.Set("active", "true")
		}

		jobs, err := api.listJobs(query)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println(mutedStyle.Render("No jobs"))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tNAME\tPROGRESS\tCREATED\tSTATUS")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%5.1f%%\t%s\t%s\n",
				j.ID,
				j.Provider,
				truncate(jobName(j), 40),
				j.Progress,
				formatMillis(j.CreatedAt),
				renderStatus(j.Status))
		}
		return w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		job, err := api.getJob(args[0])
		if err != nil {
			return err
		}
		printJob(job)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [id]",
	Short: "Refresh a job from its provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		job, err := api.jobAction(args[0], "sync")
		if err != nil {
			return err
		}
		printJob(job)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		job, err := api.jobAction(args[0], "cancel")
		if err != nil {
			return err
		}
		fmt.Printf("Job %s is now %s\n", job.ID, renderStatus(job.Status))
		return nil
	},
}

var linksCmd = &cobra.Command{
	Use:   "links [id]",
	Short: "Print the download links of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		res, err := api.fileLinks(args[0])
		if err != nil {
			return err
		}
		for _, f := range res.Files {
			if f.URL == "" {
				fmt.Printf("%s\t%s\n", f.Name, errorStyle.Render("(no link)"))
				continue
			}
			fmt.Printf("%s\t%s\n", f.Name, f.URL)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Remove a job from the local list (the remote job is left alone)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		if err := api.deleteJob(args[0]); err != nil {
			return err
		}
		fmt.Println("Job deleted")
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every completed job",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		n, err := api.clearCompleted()
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d completed job(s)\n", n)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		stats, err := api.stats()
		if err != nil {
			return err
		}

		fmt.Println(titleStyle.Render("Job Statistics"))
		fmt.Printf("  Total:       %d\n", stats.Total)
		fmt.Printf("  Queued:      %d\n", stats.Queued)
		fmt.Printf("  Resolving:   %d\n", stats.Resolving)
		fmt.Printf("  Downloading: %d\n", stats.Downloading)
		fmt.Printf("  Completed:   %d\n", stats.Completed)
		fmt.Printf("  Failed:      %d\n", stats.Failed)
		fmt.Printf("  Cancelled:   %d\n", stats.Cancelled)
		return nil
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List registered providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		names, err := api.providers()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var testProviderCmd = &cobra.Command{
	Use:   "test-provider [name]",
	Short: "Check a provider's credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ensureServer()
		res, err := api.testProvider(args[0])
		if err != nil {
			return err
		}
		if !res.Success {
			fmt.Println(errorStyle.Render("Connection failed: " + res.Message))
			return nil
		}

		fmt.Println(okStyle.Render("Connected: " + res.Message))
		if res.User != nil {
			fmt.Printf("  User:    %s\n", res.User.Username)
			fmt.Printf("  Email:   %s\n", res.User.Email)
			fmt.Printf("  Plan:    %s\n", res.User.Plan)
			fmt.Printf("  Premium: %t\n", res.User.Premium)
		}
		return nil
	},
}

func printJob(job *domain.Job) {
	fmt.Println(titleStyle.Render("Job " + job.ID))
	fmt.Printf("  Provider: %s\n", job.Provider)
	fmt.Printf("  Name:     %s\n", jobName(job))
	fmt.Printf("  Status:   %s\n", renderStatus(job.Status))
	fmt.Printf("  Progress: %.1f%%\n", job.Progress)
	fmt.Printf("  Created:  %s\n", formatMillis(job.CreatedAt))
	fmt.Printf("  Updated:  %s\n", formatMillis(job.UpdatedAt))
	if u := job.OriginalURL(); u != "" {
		fmt.Printf("  Source:   %s\n", truncate(u, 80))
	}
	if msg := job.ErrorMessage(); msg != "" {
		fmt.Printf("  Error:    %s\n", errorStyle.Render(msg))
	}
	if len(job.Files) > 0 {
		fmt.Println("  Files:")
		for _, f := range job.Files {
			fmt.Printf("    %s %s\n", f.Name, mutedStyle.Render("("+formatSize(f.Size)+")"))
		}
	}
}

// payloadFromArg treats magnet: URIs as magnets and anything else as a URL
func payloadFromArg(arg string) domain.StartPayload {
	if strings.HasPrefix(strings.ToLower(arg), "magnet:") {
		return domain.StartPayload{Magnet: arg}
	}
	return domain.StartPayload{URL: arg}
}

// parseOptionValue turns "true"/"false" into booleans and leaves the rest as strings
func parseOptionValue(v string) interface{} {
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
