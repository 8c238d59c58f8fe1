package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"medrag/config"
	"medrag/internal/adapter/chunker"
	"medrag/internal/adapter/corpus"
	"medrag/internal/usecase"
)

var (
	indexForce  bool
	indexAppend bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the vector index from the transcription corpus",
	Long: `Load the CSV files matched by corpus.paths, chunk every record, embed the
chunks and save the vector index to index.path (default .medrag/index).

An existing index is left alone unless --force (rebuild from scratch) or
--append (add records that are not indexed yet) is given.

Examples:
  medrag index                # Build a new index
  medrag index --force        # Rebuild and replace the existing index
  medrag index --append       # Add new records to the existing index`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "replace an existing index")
	indexCmd.Flags().BoolVar(&indexAppend, "append", false, "append new chunks to an existing index")
	indexCmd.MarkFlagsMutuallyExclusive("force", "append")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	root := GetRootDir()

	if err := cfg.ValidateBuild(); err != nil {
		return err
	}
	if err := config.EnsureDir(root); err != nil {
		return fmt.Errorf("failed to create .medrag directory: %w", err)
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}

	loader := corpus.NewCSVLoader(root, cfg.Corpus.Paths, cfg.Corpus.Exclude, cfg.Corpus.IDColumn, GetLogger())
	chk := chunker.NewRecursiveChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)

	indexPath := cfg.ResolveIndexPath(root)
	indexUC := usecase.NewIndexUseCase(loader, chk, embedder, usecase.IndexSettings{
		Path:           indexPath,
		ChunkSize:      chk.Size(),
		ChunkOverlap:   chk.Overlap(),
		EmbedBatchSize: cfg.Embedding.BatchSize,
		Concurrency:    cfg.Embedding.Concurrency,
		WriteBatchSize: cfg.Index.BatchSize,
	}, GetLogger())

	mode := usecase.ModeCreate
	switch {
	case indexForce:
		mode = usecase.ModeOverwrite
	case indexAppend:
		mode = usecase.ModeAppend
	}

	fmt.Printf("Indexing %v with %s (%s)...\n", cfg.Corpus.Paths, embedder.ModelName(), cfg.Embedding.Provider)

	progress := newStageProgress()
	result, err := indexUC.Build(cmd.Context(), usecase.BuildOptions{
		Mode:     mode,
		Progress: progress.update,
	})
	progress.finish()
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	// Print results
	fmt.Printf("\nIndexing complete (%s):\n", result.Mode)
	fmt.Printf("  Records loaded:  %d\n", result.Records)
	fmt.Printf("  Chunks created:  %d\n", result.ChunksCreated)
	if result.ChunksSkipped > 0 {
		fmt.Printf("  Chunks skipped:  %d (already indexed)\n", result.ChunksSkipped)
	}
	fmt.Printf("  Index entries:   %d\n", result.Entries)
	fmt.Printf("  Dimension:       %d\n", result.Meta.Dimension)
	fmt.Printf("  Took:            %s\n", formatDuration(result.Duration))

	fmt.Printf("\nIndex stored at: %s\n", indexPath)
	if result.Entries == 0 {
		fmt.Println("Warning: the corpus produced no chunks, queries will report an empty index.")
	}
	return nil
}

// stageProgress draws one progress bar per build stage.
type stageProgress struct {
	mu        sync.Mutex
	stage     string
	bar       *progressbar.ProgressBar
	finished  bool
	startTime time.Time
}

func newStageProgress() *stageProgress {
	return &stageProgress{}
}

func (p *stageProgress) update(stage string, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || p.stage != stage {
		p.finishLocked()
		p.stage = stage
		p.finished = false
		p.startTime = time.Now()
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription(stageLabel(stage)),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
	}

	_ = p.bar.Set(done)
	if done >= total {
		p.finished = true
		return
	}

	// Calculate and display ETA
	if done > 0 {
		elapsed := time.Since(p.startTime)
		rate := float64(done) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(total-done)/rate) * time.Second
			p.bar.Describe(fmt.Sprintf("%s ETA: %s", stageLabel(stage), formatDuration(eta)))
		}
	}
}

func (p *stageProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *stageProgress) finishLocked() {
	if p.bar != nil && !p.finished {
		_ = p.bar.Finish()
		p.finished = true
	}
}

func stageLabel(stage string) string {
	switch stage {
	case usecase.StageChunking:
		return "[cyan]Chunking[reset] "
	case usecase.StageEmbedding:
		return "[cyan]Embedding[reset]"
	default:
		return "[cyan]" + stage + "[reset]"
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
