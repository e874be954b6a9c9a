package main

import (
	"context"
	"fmt"

	"github.com/guido-cesarano/librarytasks/pkg/app"
	"github.com/guido-cesarano/librarytasks/pkg/config"
	"github.com/guido-cesarano/librarytasks/pkg/tasks"
	"github.com/spf13/cobra"
)

// TaskDispatcher is the set of operations exposed as commands.
type TaskDispatcher interface {
	ScanLibraries(ctx context.Context) error
	ScanLibrary(ctx context.Context, libraryID string) error
	AnalyzeUnknownAndOutdatedBooks(ctx context.Context, libraryID string) error
	AnalyzeBook(ctx context.Context, bookID string) error
	GenerateBookThumbnail(ctx context.Context, bookID string) error
	RefreshBookMetadata(ctx context.Context, bookID string, capabilities ...tasks.Capability) error
	RefreshSeriesMetadata(ctx context.Context, seriesID string) error
	AggregateSeriesMetadata(ctx context.Context, seriesID string) error
}

// connectFunc opens the dispatcher used by the commands. It returns a function
// that releases its connections.
type connectFunc func(ctx context.Context, configPath string) (TaskDispatcher, func() error, error)

func connect(ctx context.Context, configPath string) (TaskDispatcher, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return a.Dispatcher, a.Close, nil
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(connect)
}

func newRootCmdWith(open connectFunc) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Submit library tasks to the task queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file")

	// run opens the dispatcher, runs op and reports the submission.
	run := func(op func(ctx context.Context, d TaskDispatcher, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			d, closeFn, err := open(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := op(cmd.Context(), d, args); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Task submitted")
			return nil
		}
	}

	single := func(use, short string, op func(d TaskDispatcher) func(context.Context, string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, d TaskDispatcher, args []string) error {
				return op(d)(ctx, args[0])
			}),
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "scan-libraries",
		Short: "Scan every library",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, d TaskDispatcher, _ []string) error {
			return d.ScanLibraries(ctx)
		}),
	})
	root.AddCommand(single("scan-library LIBRARY_ID", "Scan one library",
		func(d TaskDispatcher) func(context.Context, string) error { return d.ScanLibrary }))
	root.AddCommand(single("analyze-library LIBRARY_ID", "Analyze the books of a library with unknown or outdated media",
		func(d TaskDispatcher) func(context.Context, string) error { return d.AnalyzeUnknownAndOutdatedBooks }))
	root.AddCommand(single("analyze-book BOOK_ID", "Analyze one book",
		func(d TaskDispatcher) func(context.Context, string) error { return d.AnalyzeBook }))
	root.AddCommand(single("generate-thumbnail BOOK_ID", "Generate the thumbnail of a book",
		func(d TaskDispatcher) func(context.Context, string) error { return d.GenerateBookThumbnail }))
	root.AddCommand(single("refresh-series-metadata SERIES_ID", "Refresh the metadata of a series",
		func(d TaskDispatcher) func(context.Context, string) error { return d.RefreshSeriesMetadata }))
	root.AddCommand(single("aggregate-series-metadata SERIES_ID", "Aggregate the metadata of a series from its books",
		func(d TaskDispatcher) func(context.Context, string) error { return d.AggregateSeriesMetadata }))

	var capabilityNames []string
	refresh := &cobra.Command{
		Use:   "refresh-book-metadata BOOK_ID",
		Short: "Refresh the metadata of a book",
		Long:  "Refresh the metadata of a book. Without --capability, every capability is refreshed.",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, d TaskDispatcher, args []string) error {
			capabilities := make([]tasks.Capability, 0, len(capabilityNames))
			for _, name := range capabilityNames {
				c, err := tasks.ParseCapability(name)
				if err != nil {
					return err
				}
				capabilities = append(capabilities, c)
			}
			return d.RefreshBookMetadata(ctx, args[0], capabilities...)
		}),
	}
	refresh.Flags().StringSliceVar(&capabilityNames, "capability", nil, "Capability to refresh (repeatable)")
	root.AddCommand(refresh)

	return root
}
