package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacentio/linkstore/internal/shortid"
	"github.com/jacentio/linkstore/link"
	"github.com/jacentio/linkstore/store"
)

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var in link.NewLink

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a link",
		Long: `Create a link for a user.

Without --id a random six character id is generated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			if in.LinkID == "" {
				if in.LinkID, err = shortid.New(shortid.DefaultLength); err != nil {
					return err
				}
			}
			l, err := s.links.Create(cmd.Context(), s.cfg.Environment, in)
			if err != nil {
				return err
			}
			return printLinks(cmd.OutOrStdout(), rootOpts.Format, l)
		},
	}

	cmd.Flags().StringVarP(&in.UserID, "user", "u", "", "owning user (required)")
	cmd.Flags().StringVar(&in.URL, "url", "", "target URL (required)")
	cmd.Flags().StringVar(&in.LinkID, "id", "", "link id")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringSliceVar(&in.Tags, "tag", nil, "tag, repeatable")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "get <link-id>",
		Short: "Show a link",
		Long: `Show a link.

With --user the link is read by its primary key, otherwise it is looked up
through the link id index.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			var l *link.Link
			if user != "" {
				l, err = s.links.Get(cmd.Context(), s.cfg.Environment, user, args[0])
			} else {
				l, err = s.links.GetByID(cmd.Context(), s.cfg.Environment, args[0], nil)
			}
			if err != nil {
				return err
			}
			return printLinks(cmd.OutOrStdout(), rootOpts.Format, l)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "owning user")

	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List links",
		Long:  "List the links of a user, or scan every link when --user is not given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			var links []*link.Link
			if user != "" {
				links, err = s.links.ListForUser(cmd.Context(), s.cfg.Environment, user)
			} else {
				links, err = s.links.ListAll(cmd.Context(), s.cfg.Environment)
			}
			if err != nil {
				return err
			}
			return printLinks(cmd.OutOrStdout(), rootOpts.Format, links...)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "owning user")

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		user string
		sets []string
	)

	cmd := &cobra.Command{
		Use:   "update <link-id>",
		Short: "Change fields of a link",
		Long: `Change fields of a link with --set field=value.

Fields are url, title and tags (comma separated). An empty value removes the field.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseSets(sets)
			if err != nil {
				return err
			}
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			l, err := s.links.Get(cmd.Context(), s.cfg.Environment, user, args[0])
			if err != nil {
				return err
			}
			if err := s.links.Update(cmd.Context(), s.cfg.Environment, l, fields); err != nil {
				return err
			}
			return printLinks(cmd.OutOrStdout(), rootOpts.Format, l)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "owning user (required)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value, repeatable")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "delete <link-id>",
		Short: "Delete a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			l, err := s.links.Get(cmd.Context(), s.cfg.Environment, user, args[0])
			if err != nil {
				return err
			}
			if err := s.links.Delete(cmd.Context(), s.cfg.Environment, l); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", l.LinkID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "owning user (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// parseSets turns field=value pairs into update fields.
func parseSets(sets []string) (map[string]any, error) {
	if len(sets) == 0 {
		return nil, errors.New("nothing to update: pass at least one --set field=value")
	}
	fields := make(map[string]any, len(sets))
	for _, kv := range sets {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q: want field=value", kv)
		}
		switch {
		case value == "":
			fields[name] = nil
		case name == link.FieldTags:
			fields[name] = strings.Split(value, ",")
		default:
			fields[name] = value
		}
	}
	return fields, nil
}

type linkOutput struct {
	UserID     string    `json:"user_id"`
	LinkID     string    `json:"link_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

func printLinks(w io.Writer, format string, links ...*link.Link) error {
	if format == "json" {
		out := make([]linkOutput, 0, len(links))
		for _, l := range links {
			out = append(out, linkOutput{
				UserID: l.UserID, LinkID: l.LinkID, URL: l.URL, Title: l.Title, Tags: l.Tags,
				CreatedAt: l.CreatedAt, ModifiedAt: l.ModifiedAt,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tID\tURL\tTITLE\tTAGS\tMODIFIED")
	for _, l := range links {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.UserID, l.LinkID, l.URL, l.Title, strings.Join(l.Tags, ","), l.ModifiedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// NewCounterCommand creates the counter command.
func NewCounterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counter <name>",
		Short: "Increment a named counter and print its new value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			n, err := s.links.NextCounter(cmd.Context(), s.cfg.Environment, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}

	return cmd
}

// NewProvisionCommand creates the provision command.
func NewProvisionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the link and counter tables of the environment",
		Long:  "Create the link and counter tables of the environment. Existing tables are left alone.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			env := s.cfg.Environment
			created, err := store.Provision(cmd.Context(), s.backend,
				link.Schema.CreateTableInput(env), s.store.CounterTableInput(env))
			if err != nil {
				return err
			}
			for _, name := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", name)
			}
			s.logger.Info("provisioned", "env", env, "created", len(created))
			return nil
		},
	}

	return cmd
}
