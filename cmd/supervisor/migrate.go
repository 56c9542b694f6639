package supervisor

import (
	"github.com/spf13/cobra"

	"github.com/nanoclaw/supervisor/internal/config"
	"github.com/nanoclaw/supervisor/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending store schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		s, err := store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer s.Close()
		log.WithField("path", cfg.StorePath).Info("supervisor: store migrated")
		return nil
	},
}
