package main

import (
	"fmt"
	"time"

	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/search"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// filterFlags are shared by every search mode.
type filterFlags struct {
	owner string
	tags  []string
	from  string
	to    string
}

func (f *filterFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.owner, "owner", "", "only media of this owner")
	fs.StringSliceVar(&f.tags, "tag", nil, "only media carrying every given tag")
	fs.StringVar(&f.from, "from", "", "only media created at or after this RFC3339 time")
	fs.StringVar(&f.to, "to", "", "only media created at or before this RFC3339 time")
}

func (f *filterFlags) filter() (media.Filter, error) {
	out := media.Filter{OwnerID: f.owner, Tags: f.tags}
	var err error
	if out.From, err = parseTime("from", f.from); err != nil {
		return media.Filter{}, err
	}
	if out.To, err = parseTime("to", f.to); err != nil {
		return media.Filter{}, err
	}
	return out, nil
}

func parseTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return &t, nil
}

type pageFlags struct {
	offset int
	limit  int
}

func (p *pageFlags) bind(fs *pflag.FlagSet) {
	fs.IntVar(&p.offset, "offset", 0, "results to skip")
	fs.IntVar(&p.limit, "limit", 0, "page size (server default when 0)")
}

func (p *pageFlags) page() media.Page {
	return media.Page{Offset: p.offset, Limit: p.limit}
}

func (c *cli) searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Query indexed media",
	}
	cmd.AddCommand(c.semanticCmd(), c.keywordCmd(), c.hybridCmd())
	return cmd
}

// withCoordinator starts the query graph and hands the coordinator to run.
func (c *cli) withCoordinator(cmd *cobra.Command, run func(*search.Coordinator) (interface{}, error)) error {
	var coord *search.Coordinator
	stop, err := start(cmd.Context(), searching(c.cfg), &coord)
	if err != nil {
		return err
	}
	defer stop()

	out, err := run(coord)
	if err != nil {
		return err
	}
	return printJSON(cmd, out)
}

func (c *cli) semanticCmd() *cobra.Command {
	var (
		ff       filterFlags
		topK     int
		minScore float64
	)
	cmd := &cobra.Command{
		Use:   "semantic <text>",
		Short: "Rank media by embedding similarity to the text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.filter()
			if err != nil {
				return err
			}
			return c.withCoordinator(cmd, func(coord *search.Coordinator) (interface{}, error) {
				return coord.Semantic(cmd.Context(), search.SemanticQuery{
					Text:     args[0],
					TopK:     topK,
					Filters:  filter,
					MinScore: minScore,
				})
			})
		},
	}
	ff.bind(cmd.Flags())
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of results (server default when 0)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "drop results scoring below this")
	return cmd
}

func (c *cli) keywordCmd() *cobra.Command {
	var (
		ff filterFlags
		pf pageFlags
	)
	cmd := &cobra.Command{
		Use:   "keyword <text>",
		Short: "Rank media by term frequency in captions and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.filter()
			if err != nil {
				return err
			}
			return c.withCoordinator(cmd, func(coord *search.Coordinator) (interface{}, error) {
				return coord.Keyword(cmd.Context(), search.KeywordQuery{
					Text:    args[0],
					Filters: filter,
					Page:    pf.page(),
				})
			})
		},
	}
	ff.bind(cmd.Flags())
	pf.bind(cmd.Flags())
	return cmd
}

func (c *cli) hybridCmd() *cobra.Command {
	var (
		ff     filterFlags
		pf     pageFlags
		weight float64
	)
	cmd := &cobra.Command{
		Use:   "hybrid <text>",
		Short: "Blend semantic and keyword scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.filter()
			if err != nil {
				return err
			}
			q := search.HybridQuery{
				Text:    args[0],
				Filters: filter,
				Page:    pf.page(),
			}
			if cmd.Flags().Changed("weight") {
				q.Weight = &weight
			}
			return c.withCoordinator(cmd, func(coord *search.Coordinator) (interface{}, error) {
				return coord.Hybrid(cmd.Context(), q)
			})
		},
	}
	ff.bind(cmd.Flags())
	pf.bind(cmd.Flags())
	cmd.Flags().Float64Var(&weight, "weight", 0, "semantic weight in [0,1] (configured default when unset)")
	return cmd
}

func (c *cli) tagsCmd() *cobra.Command {
	var (
		owner string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List the most used tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCoordinator(cmd, func(coord *search.Coordinator) (interface{}, error) {
				return coord.PopularTags(cmd.Context(), owner, limit)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only tags of this owner's media")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of tags (50 when 0, at most 200)")
	return cmd
}
