package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/nbursa/latent-journey-sub000/internal/embedding"
	"github.com/nbursa/latent-journey-sub000/internal/engine"
	"github.com/nbursa/latent-journey-sub000/internal/logging"
)

var (
	exploreK       int
	exploreDims    int
	exploreFormat  string
	exploreCheck   bool
	exploreSummary bool
	explorePersist bool
)

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Embed, project, cluster and group the most recent events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if exploreCheck {
			return runChecks(ctx, cmd.OutOrStdout())
		}

		p, err := newPipeline(ctx, cfg, logger, explorePersist)
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.store.Initialize(ctx); err != nil {
			return err
		}
		snap, err := p.explorer.Run(ctx, exploreK, exploreDims)
		if err != nil {
			return err
		}

		if exploreSummary {
			return writeOutput(cmd.OutOrStdout(), exploreFormat, summarize(snap))
		}
		return writeOutput(cmd.OutOrStdout(), exploreFormat, snap)
	},
}

func init() {
	exploreCmd.Flags().IntVar(&exploreK, "k", engine.DefaultK, "Number of clusters")
	exploreCmd.Flags().IntVarP(&exploreDims, "dims", "d", engine.DefaultDims, "Projection dimensions (2 or 3)")
	exploreCmd.Flags().StringVarP(&exploreFormat, "format", "f", "json", "Output format (json, yaml)")
	exploreCmd.Flags().BoolVar(&exploreCheck, "check", false, "Only check that the configured services respond")
	exploreCmd.Flags().BoolVar(&exploreSummary, "summary", false, "Print cluster and group membership counts instead of the full snapshot")
	exploreCmd.Flags().BoolVar(&explorePersist, "persist", false, "Store events and embeddings in the local event log")
}

type clusterSummary struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Size  int    `json:"size" yaml:"size"`
}

type groupSummary struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Members int    `json:"members" yaml:"members"`
}

type snapshotSummary struct {
	Generation uint64                  `json:"generation" yaml:"generation"`
	Events     int                     `json:"events" yaml:"events"`
	Dims       int                     `json:"dims" yaml:"dims"`
	Clusters   []clusterSummary        `json:"clusters" yaml:"clusters"`
	Groups     []groupSummary          `json:"groups" yaml:"groups"`
	Degraded   engine.Degraded         `json:"degraded" yaml:"degraded"`
	Resolver   embedding.ResolverStats `json:"resolver" yaml:"resolver"`
}

func summarize(snap *engine.Snapshot) snapshotSummary {
	out := snapshotSummary{
		Generation: snap.Generation,
		Events:     len(snap.Events),
		Dims:       snap.Projection.Dims,
		Clusters:   make([]clusterSummary, 0, len(snap.Clusters)),
		Groups:     make([]groupSummary, 0, len(snap.Groups)),
		Degraded:   snap.Degraded,
		Resolver:   snap.Stats,
	}
	for _, c := range snap.Clusters {
		out.Clusters = append(out.Clusters, clusterSummary{ID: c.ID, Label: c.Label, Size: c.Size})
	}
	for _, g := range snap.Groups {
		out.Groups = append(out.Groups, groupSummary{ID: g.ID, Name: g.Name, Members: len(g.Members)})
	}
	return out
}

var errChecksFailed = goerr.New("one or more services are unavailable")

type pinger interface {
	Ping(ctx context.Context) error
}

// runChecks pings every configured remote service.
func runChecks(ctx context.Context, w io.Writer) error {
	log := logging.From(ctx)

	type check struct {
		name string
		url  string
		p    pinger
	}
	var checks []check
	if emb := newEmbedder(cfg, log); emb != nil {
		checks = append(checks, check{"embedding", cfg.Embedding.URL, emb})
	}
	checks = append(checks, check{"reduction", cfg.Reduction.URL, newReductionClient(cfg, log)})
	if cfg.Events.Source == "remote" {
		checks = append(checks, check{"events", cfg.Events.URL, newEventSourceClient(cfg, log)})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tURL\tSTATUS")
	failed := 0
	for _, c := range checks {
		status := "ok"
		if err := c.p.Ping(ctx); err != nil {
			status = "unavailable: " + err.Error()
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.name, c.url, status)
	}
	if err := tw.Flush(); err != nil {
		return goerr.Wrap(err, "write check results")
	}
	if failed > 0 {
		return goerr.Wrap(errChecksFailed, "service check", goerr.V("failed", failed))
	}
	return nil
}
