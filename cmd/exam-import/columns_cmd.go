package main

import (
	"github.com/spf13/cobra"

	"github.com/iota-uz/exam-scheduler/modules/importer/domain/rows"
)

type flowColumns struct {
	Flow    rows.Flow `json:"flow"`
	Columns []string  `json:"columns"`
}

func newColumnsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "columns [flow]",
		Short: "Print the spreadsheet headers each flow reads",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flows := rows.Flows
			if len(args) == 1 {
				flow, err := rows.ParseFlow(args[0])
				if err != nil {
					return withCode(exitUsage, err)
				}
				flows = []rows.Flow{flow}
			}
			for _, flow := range flows {
				if err := writeJSONLine(cmd.OutOrStdout(), flowColumns{Flow: flow, Columns: rows.Columns[flow]}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
