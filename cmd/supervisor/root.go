// Package supervisor is the cobra command tree wiring every subsystem
// together: config, store, router, registry, mount planner, worker pool,
// debouncer, scheduler, mailbox, and dispatch core.
package supervisor

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	envFile string
	log     = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "supervisor",
	Short: "Brokers a chat platform and a pool of sandboxed agent containers",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to the environment file to load")
	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

// Execute runs the command tree, exiting non-zero on fatal startup errors.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
