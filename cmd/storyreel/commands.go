package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	agent "github.com/hrygo/storyreel/ai/agents"
	"github.com/hrygo/storyreel/ai/memory"
	"github.com/hrygo/storyreel/internal/version"
	"github.com/hrygo/storyreel/server/runner/embedding"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		schemaVersion, err := a.store.GetCurrentSchemaVersion()
		if err != nil {
			return err
		}
		fmt.Printf("schema version %s (%s)\n", schemaVersion, a.profile.Driver)
		return nil
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Consolidate one episode of a user into semantic knowledge",
	RunE: func(cmd *cobra.Command, _ []string) error {
		episodeID, _ := cmd.Flags().GetString("episode")
		userID, _ := cmd.Flags().GetString("user")
		minQuality, _ := cmd.Flags().GetFloat64("min-quality")
		embed, _ := cmd.Flags().GetBool("embed")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.manager.TriggerConsolidation(cmd.Context(), episodeID, userID, memory.ConsolidateOptions{
			MinQualityScore:    minQuality,
			GenerateEmbeddings: embed,
		})
		if err != nil {
			return err
		}
		if err := printJSON(result); err != nil {
			return err
		}
		if partial := result.Err(); partial != nil {
			fmt.Fprintln(os.Stderr, partial)
		}
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Embed every semantic memory that has no vector for the configured model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		batchSize, _ := cmd.Flags().GetInt("batch-size")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if a.embedder == nil {
			return memory.ErrEmbeddingUnavailable
		}

		runner := embedding.NewRunner(a.store, a.embedder, 0, batchSize, a.exporter, a.logger)
		total := 0
		for {
			n, err := runner.RunOnce(cmd.Context())
			total += n
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
		}
		fmt.Printf("reindexed %d memories with %s\n", total, a.embedder.Model())
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Semantic search over a user's knowledge",
	RunE: func(cmd *cobra.Command, _ []string) error {
		userID, _ := cmd.Flags().GetString("user")
		query, _ := cmd.Flags().GetString("query")
		topK, _ := cmd.Flags().GetInt("top-k")
		minSimilarity, _ := cmd.Flags().GetFloat64("min-similarity")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.manager.SearchKnowledge(cmd.Context(), memory.SearchRequest{
			Query:         query,
			UserID:        userID,
			TopK:          topK,
			MinSimilarity: minSimilarity,
		})
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%.4f\t#%d\t%s\n", r.Similarity, r.MemoryID, r.Content)
		}
		return nil
	},
}

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Show what is remembered about a user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		userID, _ := cmd.Flags().GetString("user")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		overview, err := a.manager.Overview(cmd.Context(), userID)
		if err != nil {
			return err
		}
		return printJSON(overview)
	},
}

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Print a prompt augmented with what an agent remembers about a user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		userID, _ := cmd.Flags().GetString("user")
		agentName, _ := cmd.Flags().GetString("agent")
		basePrompt, _ := cmd.Flags().GetString("prompt")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		adapter := agent.NewMemoryAdapter(a.manager, a.exporter, a.logger)
		fmt.Println(adapter.Augment(cmd.Context(), basePrompt, userID, agentName, nil))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version.String())
	},
}

func init() {
	consolidateCmd.Flags().String("episode", "", "episode id")
	consolidateCmd.Flags().String("user", "", "user id")
	consolidateCmd.Flags().Float64("min-quality", 0, "quality threshold separating successes from failures (0 uses the configured default)")
	consolidateCmd.Flags().Bool("embed", false, "embed the patterns written by this run")
	_ = consolidateCmd.MarkFlagRequired("episode")
	_ = consolidateCmd.MarkFlagRequired("user")

	reindexCmd.Flags().Int("batch-size", embedding.DefaultBatchSize, "texts per embedding request")

	searchCmd.Flags().String("user", "", "user id")
	searchCmd.Flags().String("query", "", "search text")
	searchCmd.Flags().Int("top-k", 10, "maximum number of results")
	searchCmd.Flags().Float64("min-similarity", 0, "drop results below this cosine similarity")
	_ = searchCmd.MarkFlagRequired("user")
	_ = searchCmd.MarkFlagRequired("query")

	overviewCmd.Flags().String("user", "", "user id")
	_ = overviewCmd.MarkFlagRequired("user")

	promptCmd.Flags().String("user", "", "user id")
	promptCmd.Flags().String("agent", "", "agent name")
	promptCmd.Flags().String("prompt", "", "base prompt")
	_ = promptCmd.MarkFlagRequired("user")
	_ = promptCmd.MarkFlagRequired("agent")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
