package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	promptQuery  string
	promptOutput string
	promptJSON   bool
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Print the grounded prompt for a question without generating",
	Long: `Retrieve context for the question and print the prompt that would be sent
to the language model. No generator credential is needed.

Examples:
  medrag prompt -q "carpal tunnel release"
  medrag prompt -q "kidney stones" -o prompt.txt
  medrag prompt -q "kidney stones" --json`,
	Args: cobra.NoArgs,
	RunE: runPrompt,
}

func init() {
	rootCmd.AddCommand(promptCmd)
	promptCmd.Flags().StringVarP(&promptQuery, "query", "q", "", "question (required)")
	promptCmd.Flags().StringVarP(&promptOutput, "output", "o", "", "output file (default: stdout)")
	promptCmd.Flags().BoolVar(&promptJSON, "json", false, "output system and user parts as JSON")
	promptCmd.MarkFlagRequired("query")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := openPipeline(ctx, false)
	if err != nil {
		return err
	}
	defer p.Shutdown(ctx)

	prompt, chunks, err := p.Prompt(ctx, promptQuery)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	output := []byte(prompt.String())
	if promptJSON {
		output, err = json.MarshalIndent(struct {
			System string `json:"system"`
			User   string `json:"user"`
			Chunks int    `json:"chunks"`
		}{prompt.System, prompt.User, len(chunks)}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
	}

	if promptOutput != "" {
		if err := os.WriteFile(promptOutput, output, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Printf("Prompt written to: %s\n", promptOutput)
		fmt.Printf("  Context chunks: %d\n", len(chunks))
		return nil
	}

	fmt.Println(string(output))
	return nil
}
