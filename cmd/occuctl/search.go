package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher/pipeline"
)

var (
	flagLang          string
	flagLimit         int
	flagPrefix        string
	flagMinConfidence float64
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank occupations for a free-text job description",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := pipeline.Request{
			Text:          strings.Join(args, " "),
			Language:      flagLang,
			Limit:         flagLimit,
			Prefix:        flagPrefix,
			MinConfidence: flagMinConfidence,
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			resp, err := a.Service.Search(ctx, req)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(resp)
			}
			printResponse(resp)
			return nil
		})
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <code>",
	Short: "List occupations whose embeddings are nearest to a code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			codes, err := a.Service.Similar(ctx, args[0], flagLang, flagLimit)
			if err != nil {
				return err
			}
			return printList(codes)
		})
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <prefix>",
	Short: "Complete a partially typed occupation phrase",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			phrases, err := a.Service.Suggest(ctx, strings.Join(args, " "), flagLang, flagLimit)
			if err != nil {
				return err
			}
			return printList(phrases)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, similarCmd, suggestCmd} {
		c.Flags().StringVar(&flagLang, "lang", "", "query language (default: detected, or the configured default)")
		c.Flags().IntVar(&flagLimit, "limit", 0, "maximum results (default: configured default)")
		rootCmd.AddCommand(c)
	}
	searchCmd.Flags().StringVar(&flagPrefix, "prefix", "", "restrict results to a code hierarchy prefix, e.g. 753")
	searchCmd.Flags().Float64Var(&flagMinConfidence, "min-confidence", 0, "drop results below this confidence")
}

func printResponse(resp *pipeline.Response) {
	if resp.Empty {
		fmt.Println("no matching occupations")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tCONFIDENCE\tMATCH\tEXPLANATION")
	for _, item := range resp.Results {
		fmt.Fprintf(w, "%s\t%.4f\t%s\t%s\n", item.Code, item.Confidence, item.MatchType, item.Explanation)
	}
	_ = w.Flush()

	var notes []string
	if resp.Degraded {
		notes = append(notes, "degraded")
	}
	if resp.LowConfidence {
		notes = append(notes, "low confidence")
	}
	if resp.Cached {
		notes = append(notes, "cached")
	}
	for _, f := range resp.Failures {
		notes = append(notes, fmt.Sprintf("%s %s", f.Path, f.Reason))
	}
	if len(notes) > 0 {
		fmt.Printf("\n(%s; language %s)\n", strings.Join(notes, ", "), resp.Language)
	}
}

func printList(items []string) error {
	if flagJSON {
		if items == nil {
			items = []string{}
		}
		return printJSON(items)
	}
	for _, s := range items {
		fmt.Println(s)
	}
	return nil
}
