package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"medrag/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default medrag.yaml",
	Long: `Write the default configuration to medrag.yaml in the root directory, ready
to edit. An existing file is kept unless --force is given.

Examples:
  medrag init
  medrag init --dir /srv/medrag --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing medrag.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := config.WriteDefault(GetRootDir(), initForce)
	if err != nil {
		return err
	}
	fmt.Printf("Default configuration written to: %s\n", path)
	return nil
}
