package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daviddao/helpdesk/internal/display"
	"github.com/daviddao/helpdesk/internal/rules"
	"github.com/daviddao/helpdesk/internal/types"
)

type rulesSummary struct {
	Subcategory string `json:"subcategory"`
	Critical    int    `json:"critical"`
	Elevated    int    `json:"elevated"`
}

var rulesCmd = &cobra.Command{
	Use:   "rules [SUBCATEGORY]",
	Short: "Show the business rule catalog",
	Long: `Without arguments, list every subcategory with its rule counts. With a
subcategory, print its critical and elevated rules.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := rules.Load(cfg.Rules.Path)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			subs := catalog.Subcategories()
			summary := make([]rulesSummary, 0, len(subs))
			for _, s := range subs {
				crit, elev := catalog.Partition(s)
				summary = append(summary, rulesSummary{Subcategory: s, Critical: len(crit), Elevated: len(elev)})
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			display.Header(fmt.Sprintf("%s (%d rules, version %s)", cfg.Rules.Path, catalog.Len(), catalog.Version()))
			for _, s := range summary {
				fmt.Printf("  %-24s %s %d  %s %d\n", s.Subcategory,
					display.PriorityDot(types.TierCritical), s.Critical,
					display.PriorityDot(types.TierElevated), s.Elevated)
			}
			return nil
		}

		sub := rules.Normalize(args[0])
		if !catalog.Has(sub) {
			return fmt.Errorf("no rules for subcategory %q", sub)
		}
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(catalog.For(sub))
		}
		crit, elev := catalog.Partition(sub)
		display.Header(sub)
		for _, group := range [][]types.Rule{crit, elev} {
			for _, r := range group {
				team := ""
				if r.Team != "" {
					team = display.Dim.Render(" → " + r.Team)
				}
				fmt.Printf("  %s %s%s\n", display.PriorityLabel(r.Tier), r.Description, team)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}
