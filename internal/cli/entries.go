package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"driftnote/internal/notes"
	"driftnote/internal/storage"
)

func buildEntriesCommand(o *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Manage stored entries",
	}
	cmd.AddCommand(
		buildEntriesAddCommand(o),
		buildEntriesListCommand(o),
		buildEntriesShowCommand(o),
		buildEntriesRmCommand(o),
	)
	return cmd
}

// withStore opens the store, runs fn and closes the store.
func withStore(o *rootOpts, fn func(st storage.Store) error) error {
	st, err := openStore(o.configPath)
	if err != nil {
		return err
	}
	runErr := fn(st)
	if err := st.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func buildEntriesAddCommand(o *rootOpts) *cobra.Command {
	var owner, title, content string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an entry (content \"-\" reads stdin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if content == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				content = strings.TrimRight(string(b), "\n")
			}
			return withStore(o, func(st storage.Store) error {
				e, err := st.Create(cmd.Context(), notes.Entry{OwnerID: owner, Title: title, Content: content})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), e.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&title, "title", "", "entry title")
	cmd.Flags().StringVar(&content, "content", "", "entry content")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func buildEntriesListCommand(o *rootOpts) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(o, func(st storage.Store) error {
				es, err := st.List(cmd.Context(), owner)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tOWNER\tUPDATED\tTITLE")
				for _, e := range es {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.OwnerID, e.UpdatedAt.Format(time.RFC3339), e.Title)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only entries of this owner")
	return cmd
}

func buildEntriesShowCommand(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(o, func(st storage.Store) error {
				e, err := st.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "id:      %s\nowner:   %s\ncreated: %s\nupdated: %s\ntitle:   %s\n\n%s\n",
					e.ID, e.OwnerID, e.CreatedAt.Format(time.RFC3339), e.UpdatedAt.Format(time.RFC3339), e.Title, e.Content)
				return nil
			})
		},
	}
}

func buildEntriesRmCommand(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(o, func(st storage.Store) error {
				return st.Delete(cmd.Context(), args[0])
			})
		},
	}
}

func buildPrefsCommand(o *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Manage per-owner change rates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <owner> <low|medium|high>",
		Short: "Set an owner's change rate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := notes.ParseChangeRate(args[1])
			if err != nil {
				return err
			}
			return withStore(o, func(st storage.Store) error {
				return st.SetChangeRate(cmd.Context(), args[0], rate)
			})
		},
	}, &cobra.Command{
		Use:   "get <owner>",
		Short: "Print an owner's effective change rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(o, func(st storage.Store) error {
				rate, ok, err := st.ChangeRate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s (default)\n", notes.DefaultRate)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), rate)
				return nil
			})
		},
	})
	return cmd
}

