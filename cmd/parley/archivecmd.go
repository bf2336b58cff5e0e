package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/MrWong99/parley/internal/archive"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/session"
)

var (
	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)
)

func newArchiveCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Browse archived conversations",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withArchive(cmd.Context(), *configPath, func(store archive.Store) error {
				recs, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(recs) == 0 {
					fmt.Fprintln(out, headerStyle.Render("No archived conversations"))
					return nil
				}
				fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d archived conversation(s)", len(recs))))
				tw := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						idStyle.Render(r.ID),
						dateStyle.Render(r.CreatedAt.Local().Format("2006-01-02 15:04")),
						r.Mode,
						r.Level,
						countStyle.Render(fmt.Sprintf("%d messages", r.Messages)),
					)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", archive.DefaultListLimit, "maximum number of records to show")

	var format string
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one archived conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := session.ParseFormat(format)
			if err != nil {
				return err
			}
			return withArchive(cmd.Context(), *configPath, func(store archive.Store) error {
				rec, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				snap, err := session.ParseSnapshot(rec.Snapshot, session.FormatJSON)
				if err != nil {
					return fmt.Errorf("archive record %s: %w", rec.ID, err)
				}
				return session.Export(cmd.OutOrStdout(), snap, f)
			})
		},
	}
	show.Flags().StringVarP(&format, "format", "f", "md", "output format: json, yaml or md")

	cmd.AddCommand(list, show)
	return cmd
}

func withArchive(ctx context.Context, configPath string, fn func(archive.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := archive.Open(ctx, cfg.Archive.Driver, cfg.Archive.DSN)
	if errors.Is(err, archive.ErrDisabled) {
		return errors.New("archive is disabled; set archive.driver in the configuration")
	}
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
