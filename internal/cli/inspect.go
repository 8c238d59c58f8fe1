package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"medrag/internal/adapter/store"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show metadata of the saved index",
	Long: `Load the index at index.path and print its metadata: schema version,
embedding model, dimension, chunk settings, entry count and build id. The
compatibility with the configured embedder is checked as well.`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON")
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	indexPath := cfg.ResolveIndexPath(GetRootDir())

	ix, err := store.LoadVectorIndex(indexPath)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	meta := ix.Meta()
	ix.Close()

	if inspectJSON {
		output, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	output, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	fmt.Printf("Index at %s:\n%s", indexPath, output)
	fmt.Printf("built: %s\n", time.Unix(meta.BuiltAt, 0).Format(time.RFC3339))

	embedder, err := newEmbedder(cfg)
	if err != nil {
		fmt.Printf("\nCompatibility not checked: %v\n", err)
		return nil
	}
	// chunk settings only matter when appending
	compat := store.CheckCompatibility(meta, embedder.Dimension(), embedder.ModelName(), 0, 0)
	if compat.Compatible {
		fmt.Println("\nCompatible with the configured embedder.")
	} else {
		fmt.Printf("\nNot compatible with the configured embedder: %s\n", compat.Reason)
	}
	return nil
}
