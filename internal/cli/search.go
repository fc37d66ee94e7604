package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conthunt/streamcore/internal/aggregate"
	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/internal/search"
)

const cliTab = "cli"

var (
	searchPlatforms []string
	searchSort      string
	searchAscending bool
	searchMore      int
	searchMinViews  int64
	searchLimit     int
	searchFailing   []string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search content across platforms",
	Long: `Starts a search, streams every platform's first page into one
deduplicated result set and optionally loads further pages.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var attachCmd = &cobra.Command{
	Use:   "attach [search-id]",
	Short: "Stream an existing search",
	Long:  `Streams a search started elsewhere, for example by the chat assistant.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAttach,
}

func init() {
	for _, cmd := range []*cobra.Command{searchCmd, attachCmd} {
		cmd.Flags().StringVar(&searchSort, "sort", "", "sort key: views, likes, comments, shares, engagement, published")
		cmd.Flags().BoolVar(&searchAscending, "asc", false, "sort ascending")
		cmd.Flags().IntVar(&searchMore, "more", 0, "number of load-more rounds to run")
		cmd.Flags().Int64Var(&searchMinViews, "min-views", 0, "hide items with fewer views")
		cmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of items to print")
		rootCmd.AddCommand(cmd)
	}
	searchCmd.Flags().StringSliceVarP(&searchPlatforms, "platform", "p", nil, "platforms to search (default all)")
	searchCmd.Flags().StringSliceVar(&searchFailing, "simulate-error", nil, "platforms the development backend should fail")
}

// searchOutput is the rendered result of a search command.
type searchOutput struct {
	SearchID string                    `json:"search_id" yaml:"search_id"`
	Query    string                    `json:"query,omitempty" yaml:"query,omitempty"`
	Total    int                       `json:"total" yaml:"total"`
	HasMore  bool                      `json:"has_more" yaml:"has_more"`
	Failed   map[model.Platform]string `json:"failed,omitempty" yaml:"failed,omitempty"`
	Items    []model.ContentItem       `json:"items" yaml:"items"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	platforms, err := parsePlatforms(searchPlatforms)
	if err != nil {
		return err
	}
	failing, err := parsePlatforms(searchFailing)
	if err != nil {
		return err
	}

	filters := make(map[model.Platform]model.Filter, len(failing))
	for _, p := range failing {
		filters[p] = model.Filter{"simulate_error": true}
	}

	return withSearchSession(cmd, func(ctx context.Context, sess *search.Session) error {
		_, err := sess.Start(ctx, cliTab, &model.SearchRequest{
			Query:     args[0],
			Platforms: platforms,
			Filters:   filters,
		})
		return err
	})
}

func runAttach(cmd *cobra.Command, args []string) error {
	return withSearchSession(cmd, func(ctx context.Context, sess *search.Session) error {
		return sess.Attach(ctx, cliTab, args[0])
	})
}

func withSearchSession(cmd *cobra.Command, open func(context.Context, *search.Session) error) error {
	key, ok := aggregate.ParseSortKey(searchSort)
	if !ok {
		return fmt.Errorf("unknown sort key %q", searchSort)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sess, err := search.NewSession(search.Options{
		Backend:  rt.client,
		Streamer: rt.consumer,
		Logger:   rt.log,
		UserID:   rt.cfg.DevUserID,
	})
	if err != nil {
		return err
	}
	defer sess.Shutdown()

	if err := open(ctx, sess); err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if err := follow(ctx, sess); err != nil {
		return err
	}

	info, _ := sess.Info(cliTab)
	items := sess.View(cliTab, aggregate.Filter{MinViews: searchMinViews}, aggregate.Sort{Key: key, Ascending: searchAscending})
	out := searchOutput{
		SearchID: info.SearchID,
		Query:    info.Query,
		Total:    info.Items,
		HasMore:  info.HasMore,
		Failed:   sess.PlatformErrors(cliTab),
		Items:    limit(items, searchLimit),
	}
	return render(cmd.OutOrStdout(), out, func(w io.Writer) error {
		return printItems(w, out)
	})
}

// follow waits for the search stream, then runs the requested load-more rounds.
func follow(ctx context.Context, sess *search.Session) error {
	if err := sess.Wait(ctx, cliTab); err != nil {
		_ = sess.Abort(cliTab)
		return err
	}
	if err := sess.Err(cliTab); err != nil {
		return fmt.Errorf("search failed: %s", model.UserMessage(err))
	}

	for i := 0; i < searchMore && sess.HasMore(cliTab); i++ {
		round, err := sess.LoadMore(ctx, cliTab, nil)
		if err != nil {
			return fmt.Errorf("load more failed: %w", err)
		}
		if err := round.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				round.Abort()
				return err
			}
			rt.log.Warn("load more round failed", zap.Error(err))
			break
		}
		rt.log.Debug("load more round completed",
			zap.Int("round", i+1),
			zap.Int("added", round.Added()),
			zap.Bool("has_more", round.HasMore()),
		)
	}
	return nil
}

func printItems(w io.Writer, out searchOutput) error {
	fmt.Fprintf(w, "Search %s: %d items", out.SearchID, out.Total)
	if out.HasMore {
		fmt.Fprint(w, " (more available)")
	}
	fmt.Fprintln(w)

	failed := make([]string, 0, len(out.Failed))
	for p, msg := range out.Failed {
		failed = append(failed, fmt.Sprintf("%s: %s", p, msg))
	}
	sort.Strings(failed)
	for _, f := range failed {
		fmt.Fprintf(w, "  ! %s\n", f)
	}

	if len(out.Items) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}

	fmt.Fprintln(w)
	for i, item := range out.Items {
		caption := item.Caption
		if caption == "" {
			caption = item.ID
		}
		fmt.Fprintf(w, "  [%d] %-9s %s\n", i+1, item.Platform, caption)
		fmt.Fprintf(w, "      %d views, %d likes, %.1f%% engagement", item.Metrics.Views, item.Metrics.Likes, item.Metrics.EngagementRate()*100)
		if item.Creator.Username != "" {
			fmt.Fprintf(w, " by @%s", item.Creator.Username)
		}
		fmt.Fprintln(w)
		if item.URL != "" {
			fmt.Fprintf(w, "      %s\n", item.URL)
		}
	}
	return nil
}

func parsePlatforms(names []string) ([]model.Platform, error) {
	var out []model.Platform
	for _, name := range names {
		p, ok := model.ParsePlatform(name)
		if !ok {
			return nil, fmt.Errorf("unknown platform %q (want %s)", name, platformNames())
		}
		out = append(out, p)
	}
	return out, nil
}

func platformNames() string {
	names := make([]string, len(model.Platforms))
	for i, p := range model.Platforms {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

func limit(items []model.ContentItem, n int) []model.ContentItem {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
