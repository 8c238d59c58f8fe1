package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"medrag/internal/domain"
)

// ExampleQuestions are sample questions the corpus can answer.
var ExampleQuestions = []string{
	"What are the common symptoms of allergic rhinitis?",
	"Describe the procedure for a cardiac catheterization.",
	"What are the treatment options for carpal tunnel syndrome?",
	"What findings are typically reported after a colonoscopy?",
	"How are kidney stones usually diagnosed and treated?",
}

var (
	queryText     string
	queryJSON     bool
	queryExamples bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Answer a question from the medical records",
	Long: `Retrieve the transcription chunks most similar to the question, ask the
language model for an answer grounded on them and print it with its
numbered sources.

Examples:
  medrag query -q "What are the common symptoms of allergic rhinitis?"
  medrag query -q "carpal tunnel treatment" --json
  medrag query --examples`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question to answer (required)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the UI response shape as JSON")
	queryCmd.Flags().BoolVar(&queryExamples, "examples", false, "list example questions and exit")
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryExamples {
		fmt.Println("Example questions:")
		for i, q := range ExampleQuestions {
			fmt.Printf("  %d. %s\n", i+1, q)
		}
		return nil
	}
	if queryText == "" {
		return fmt.Errorf("required flag \"query\" not set")
	}

	ctx := cmd.Context()
	p, err := openPipeline(ctx, true)
	if err != nil {
		return err
	}
	defer p.Shutdown(ctx)

	if queryJSON {
		output, err := json.MarshalIndent(p.Invoke(ctx, queryText), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	answer, err := p.Answer(ctx, queryText)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	printAnswer(answer)
	return nil
}

func printAnswer(answer domain.Answer) {
	fmt.Println(answer.Text)

	sources := answer.Sources()
	if len(sources) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for _, s := range sources {
		fmt.Printf("--- [%d] Source ID: %s | Specialty: %s (score: %.2f) ---\n", s.Number, s.SourceID, s.Specialty, s.Score)
		fmt.Println(s.Snippet)
		fmt.Println()
	}
}
