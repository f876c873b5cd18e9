package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
)

var showCmd = &cobra.Command{
	Use:   "show <code>",
	Short: "Print an occupation record from the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := occupation.ParseCode(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			rec, err := a.Catalog.Lookup(ctx, code)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(rec)
			}
			fmt.Printf("%s  %s\n", rec.Code, rec.Title)
			if rec.Description != "" {
				fmt.Printf("\n%s\n", rec.Description)
			}
			if len(rec.Keywords) > 0 {
				fmt.Printf("\nkeywords: %s\n", strings.Join(rec.Keywords, ", "))
			}
			for lang, syns := range rec.Synonyms {
				fmt.Printf("synonyms (%s): %s\n", lang, strings.Join(syns, ", "))
			}
			fmt.Println()
			h := rec.Hierarchy()
			for _, lvl := range occupation.Levels {
				fmt.Printf("%-16s %s\n", lvl, h[lvl])
			}
			return nil
		})
	},
}

var hierarchyCmd = &cobra.Command{
	Use:   "hierarchy <level> <value>",
	Short: "List the occupations under one branch of the code hierarchy",
	Long: "List the occupations under one branch of the code hierarchy.\n\n" +
		"Levels: division (1 digit), major_group (2), sub_major_group (3),\n" +
		"minor_group (4), unit_group (5). Example: occuctl hierarchy minor_group 7532",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			records, err := a.Catalog.ByHierarchy(ctx, occupation.Level(args[0]), args[1])
			if err != nil {
				return err
			}
			if flagJSON {
				if records == nil {
					records = []occupation.Record{}
				}
				return printJSON(records)
			}
			if len(records) == 0 {
				fmt.Println("no occupations")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tTITLE")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\n", rec.Code, rec.Title)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(showCmd, hierarchyCmd)
}
