package supervisor

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the supervisor's release version, set via -ldflags at build time.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the supervisor version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(Version)
		return nil
	},
}
