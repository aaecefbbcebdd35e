package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nemesis/matcher/internal/matching"
)

var scorerHelp = []struct {
	name, desc string
}{
	{matching.ScorerDifference, "mean absolute difference per question"},
	{matching.ScorerEuclidean, "Euclidean distance between opinion vectors"},
	{matching.ScorerPolarization, "difference plus a bonus for answers on opposite sides of the midpoint"},
}

func newScorersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scorers",
		Short: "List the available scoring strategies",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, s := range scorerHelp {
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", s.name, s.desc)
			}
		},
	}
}
