package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robdel12/orbitdock/internal/auth"
	"github.com/robdel12/orbitdock/internal/config"
)

var tokenResetFlag bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the daemon's bearer token, creating one if absent",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().BoolVar(&tokenResetFlag, "reset", false, "generate a new token, invalidating the old one")
}

func runToken(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths(config.ResolveHome())
	if err := os.MkdirAll(paths.Root, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if tokenResetFlag {
		if err := os.Remove(paths.Token); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old token: %w", err)
		}
	}

	token, err := auth.LoadOrCreate(paths.Token)
	if err != nil {
		return fmt.Errorf("load or create token: %w", err)
	}
	fmt.Println(token)
	return nil
}
