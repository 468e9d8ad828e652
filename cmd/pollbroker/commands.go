package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tansive/pollbroker/internal/common/httpclient"
	"github.com/tansive/pollbroker/internal/pollbroker/server"
	"github.com/tansive/pollbroker/internal/pollbroker/webio"
)

var (
	// Global flags
	jsonOutput bool
	configFile string
	serverURL  string
)

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)
var bannerLabel = color.New(color.FgCyan).Add(color.Bold)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pollbroker [command] [flags]",
	Short: "Long-poll session broker for interactive browser sessions",
	Long: `pollbroker relays interactive sessions between browsers and server-side
tasks over plain HTTP long polling.

Examples:
  # Run the broker
  pollbroker serve --config pollbroker.toml

  # Check a running broker
  pollbroker status --server http://localhost:8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), configFile)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "pollbroker.toml", "Path to configuration file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newTasksCmd())
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			printJSON(map[string]string{"error": err.Error()})
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), path)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "pollbroker.toml", "Path to configuration file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of pollbroker",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version":    server.Version,
					"apiVersion": server.ApiVersion,
				})
				return
			}
			bannerLabel.Printf("pollbroker %s", server.Version)
			fmt.Printf(" (api %s)\n", server.ApiVersion)
		},
	}
}

func newStatusCmd() *cobra.Command {
	var pollPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report version, readiness and live sessions of a running broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := httpclient.NewClient(serverURL, 5*time.Second)
			st, err := client.GetStatus(cmd.Context(), server.ApiVersion)
			if err != nil {
				return err
			}
			probeErr := client.Probe(cmd.Context(), pollPath)

			if jsonOutput {
				printJSON(map[string]any{
					"serverVersion": st.ServerVersion,
					"apiVersion":    st.ApiVersion,
					"compatible":    st.Compatible,
					"ready":         st.Ready,
					"sessions":      st.Sessions,
					"pollReachable": probeErr == nil,
				})
				return nil
			}
			fmt.Printf("Server:     %s\n", st.ServerVersion)
			fmt.Printf("API:        %s\n", st.ApiVersion)
			printFlag("Compatible", st.Compatible)
			printFlag("Ready", st.Ready)
			printFlag("Poll path", probeErr == nil)
			fmt.Printf("Sessions:   %d\n", st.Sessions)
			return nil
		},
	}
	cmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Broker base URL")
	cmd.Flags().StringVar(&pollPath, "poll-path", "/poll", "Route of the polling endpoint")
	return cmd
}

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the tasks a session can run",
		Run: func(cmd *cobra.Command, args []string) {
			names := webio.TaskNames()
			if jsonOutput {
				printJSON(names)
				return
			}
			for _, name := range names {
				entry, err := webio.LookupTask(name)
				if err != nil {
					continue
				}
				kind := "goroutine"
				if entry.Cooperative {
					kind = "event loop"
				}
				fmt.Printf("%-12s %s\n", name, kind)
			}
		},
	}
}

func printFlag(label string, ok bool) {
	fmt.Printf("%-11s ", label+":")
	if ok {
		okLabel.Println("yes")
	} else {
		errorLabel.Println("no")
	}
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Println(string(b))
}
