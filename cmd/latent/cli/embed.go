package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/nbursa/latent-journey-sub000/internal/embedding"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

var (
	embedTs         float64
	embedSource     string
	embedContent    string
	embedIntent     string
	embedValence    float64
	embedArousal    float64
	embedConfidence float64
	embedRemote     bool
	embedFormat     string
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Print the embedding of a single event",
	Long: `embed prints the deterministic embedding of the event described by the
flags. With --remote the configured embedding service is tried first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := types.ParseSource(embedSource)
		if err != nil {
			return err
		}

		ev := types.MemoryEvent{
			Timestamp: embedTs,
			Source:    src,
			Content:   embedContent,
		}
		if ev.Timestamp == 0 {
			ev.Timestamp = float64(time.Now().UnixMilli()) / 1000
		}
		flags := cmd.Flags()
		if flags.Changed("valence") {
			ev.Facets.Valence = types.Float(embedValence)
		}
		if flags.Changed("arousal") {
			ev.Facets.Arousal = types.Float(embedArousal)
		}
		if flags.Changed("confidence") {
			ev.Facets.Confidence = types.Float(embedConfidence)
		}
		if embedIntent != "" {
			ev.Facets.Intent = types.Text(embedIntent)
		}

		var emb types.Embedding
		if embedRemote {
			resolver := embedding.NewResolver(newEmbedder(cfg, logger), embedding.NewCache(1), logger)
			emb = resolver.Resolve(cmd.Context(), ev)
		} else {
			emb = embedding.Deterministic{}.Embed(ev)
		}
		return writeOutput(cmd.OutOrStdout(), embedFormat, emb)
	},
}

func init() {
	embedCmd.Flags().Float64Var(&embedTs, "ts", 0, "Event timestamp in seconds (default: now)")
	embedCmd.Flags().StringVarP(&embedSource, "source", "s", "", "Event source (vision, speech, stm, ltm)")
	embedCmd.Flags().StringVar(&embedContent, "content", "", "Event content")
	embedCmd.Flags().StringVar(&embedIntent, "intent", "", "speech.intent facet")
	embedCmd.Flags().Float64Var(&embedValence, "valence", 0, "affect.valence facet")
	embedCmd.Flags().Float64Var(&embedArousal, "arousal", 0, "affect.arousal facet")
	embedCmd.Flags().Float64Var(&embedConfidence, "confidence", 0, "confidence facet")
	embedCmd.Flags().BoolVar(&embedRemote, "remote", false, "Try the configured embedding service first")
	embedCmd.Flags().StringVarP(&embedFormat, "format", "f", "json", "Output format (json, yaml)")
	_ = embedCmd.MarkFlagRequired("source")
}
