package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/kafka"
)

var flagFromCatalog bool

var removeCmd = &cobra.Command{
	Use:   "remove <code>...",
	Short: "Remove occupations from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		codes, err := parseCodes(args)
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			for _, code := range codes {
				if flagFromCatalog {
					if err := a.Catalog.Delete(ctx, code); err != nil {
						return err
					}
				}
				if err := a.Service.Remove(ctx, string(code)); err != nil {
					return err
				}
				fmt.Printf("removed %s\n", code)
			}
			return nil
		})
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <upsert|delete> <code>...",
	Short: "Announce catalog changes to running searchers",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		op := occupation.EventOp(args[0])
		codes, err := parseCodes(args[1:])
		if err != nil {
			return err
		}
		events := make([]kafka.Event, 0, len(codes))
		for _, code := range codes {
			if err := (occupation.Event{Op: op, Code: code}).Validate(); err != nil {
				return err
			}
			events = append(events, consumer.Event(op, code))
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.OccupationEvents)
		defer p.Close()
		if err := p.Publish(cmd.Context(), events...); err != nil {
			return err
		}
		fmt.Printf("published %d %s events to %s\n", len(events), op, cfg.Kafka.Topics.OccupationEvents)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index, cache and breaker state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			st := a.Service.Stats()
			if flagJSON {
				return printJSON(st)
			}
			fmt.Printf("documents  %d\nterms      %d\n", st.Index.Documents, st.Index.Terms)
			for space, n := range st.Index.Spaces {
				fmt.Printf("space %-4s %d vectors\n", space, n)
			}
			for name, state := range st.Breakers {
				fmt.Printf("breaker %-12s %s\n", name, state)
			}
			if st.Cache != nil {
				fmt.Printf("cache      %d hits, %d misses\n", st.Cache.Hits, st.Cache.Misses)
			}
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Load occupation records into the catalog and index them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		records, err := catalog.DecodeRecords(f)
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Catalog.UpsertAll(ctx, records); err != nil {
				return err
			}
			res, err := a.Builder.Build(ctx, records)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(res)
			}
			fmt.Printf("imported %d records, indexed %d, failed %d in %s\n", len(records), res.Indexed, res.Failed, res.Took)
			for _, fl := range res.Failures {
				fmt.Printf("  %s: %s\n", fl.Code, fl.Error)
			}
			return nil
		})
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop the index and rebuild it from the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			res, err := a.Rebuild(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(res)
			}
			fmt.Printf("indexed %d, failed %d in %s\n", res.Indexed, res.Failed, res.Took)
			return nil
		})
	},
}

func init() {
	removeCmd.Flags().BoolVar(&flagFromCatalog, "catalog", false, "also delete the records from the catalog")
	rootCmd.AddCommand(removeCmd, publishCmd, statsCmd, importCmd, rebuildCmd)
}

func parseCodes(args []string) ([]occupation.Code, error) {
	codes := make([]occupation.Code, 0, len(args))
	for _, s := range args {
		code, err := occupation.ParseCode(s)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}
