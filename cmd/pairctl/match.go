package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nemesis/matcher/internal/matching"
	"github.com/nemesis/matcher/internal/roster"
)

type matchOptions struct {
	roster  string
	scorer  string
	top     int
	workers int
	asJSON  bool
}

// matchReport is the --json output.
type matchReport struct {
	Scorer    string        `json:"scorer"`
	Matches   []reportEntry `json:"matches"`
	Unmatched []string      `json:"unmatched"`
}

type reportEntry struct {
	UserA          string                `json:"user_a"`
	UserB          string                `json:"user_b"`
	Score          float64               `json:"score"`
	TopDifferences []matching.Difference `json:"top_differences,omitempty"`
}

func newMatchCmd() *cobra.Command {
	opts := matchOptions{}

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Pair the users in a roster file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMatch(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.roster, "roster", "r", "", "YAML roster of users (required)")
	f.StringVarP(&opts.scorer, "scorer", "s", matching.ScorerPolarization, "scoring strategy")
	f.IntVar(&opts.top, "top", 3, "top differences to show per match (0 hides them)")
	f.IntVar(&opts.workers, "workers", 0, "scoring goroutines (0 scores sequentially)")
	f.BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")
	_ = cmd.MarkFlagRequired("roster")

	return cmd
}

func runMatch(ctx context.Context, out io.Writer, opts matchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	scorer, err := matching.ScorerByName(opts.scorer)
	if err != nil {
		return err
	}
	users, err := roster.Load(opts.roster)
	if err != nil {
		return err
	}
	log.Debug().Int("users", len(users)).Str("scorer", opts.scorer).Msg("roster loaded")

	matcher := matching.NewGreedyMatcher(scorer)
	var matches []matching.Match
	if opts.workers > 0 {
		matches, err = matcher.FindMatchesContext(ctx, users, opts.workers)
		if err != nil {
			return err
		}
	} else {
		matches = matcher.FindMatches(users)
	}

	report := buildReport(opts.scorer, users, matches, opts.top)
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return writeTable(out, report)
}

func buildReport(scorer string, users []matching.User, matches []matching.Match, top int) matchReport {
	byID := make(map[string]matching.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	report := matchReport{Scorer: scorer, Matches: make([]reportEntry, 0, len(matches)), Unmatched: []string{}}
	matched := make(map[string]bool, len(users))
	for _, m := range matches {
		entry := reportEntry{UserA: m.UserA, UserB: m.UserB, Score: m.Score}
		if top > 0 {
			entry.TopDifferences = matching.TopDifferences(byID[m.UserA], byID[m.UserB], top)
		}
		report.Matches = append(report.Matches, entry)
		matched[m.UserA] = true
		matched[m.UserB] = true
	}
	for _, u := range users {
		if !matched[u.ID] {
			report.Unmatched = append(report.Unmatched, u.ID)
		}
	}
	return report
}

func writeTable(out io.Writer, report matchReport) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER A\tUSER B\tSCORE\tTOP DIFFERENCES")
	for _, e := range report.Matches {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\n", e.UserA, e.UserB, e.Score, formatDiffs(e.TopDifferences))
	}
	for _, id := range report.Unmatched {
		fmt.Fprintf(tw, "%s\t-\t-\tunmatched\n", id)
	}
	return tw.Flush()
}

func formatDiffs(diffs []matching.Difference) string {
	if len(diffs) == 0 {
		return "-"
	}
	s := ""
	for i, d := range diffs {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("q%d %d/%d", d.Index+1, d.ValueA, d.ValueB)
	}
	return s
}
