package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jun/gophsync/core/client"
	gsync "github.com/jun/gophsync/core/sync"
	"github.com/jun/gophsync/internal/model"
)

func newLoginCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Start a demo session (dev servers only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, token, err := client.NewClient(opts.serverURL).DemoLogin(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# signed in as %s\n", userID)
			fmt.Fprintf(out, "export GOPHSYNC_TOKEN=%s\n", token)
			return nil
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the local instance and your workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.hydrate(cmd.Context()); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSLUG\tNAME\tROLE\tREVISION")
			for _, in := range s.engine.Registry().Instances() {
				st, _ := s.engine.State(in.ID)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", in.ID, in.Slug, in.DisplayName, in.Role, st.Revision)
			}
			return w.Flush()
		},
	}
}

func newCreateCmd(opts *options) *cobra.Command {
	var seedLocal bool
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			ws, err := s.engine.CreateWorkspace(cmd.Context(), args[0], seedLocal)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", ws.Slug, ws.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&seedLocal, "seed-local", false, "upload the local instance's collections")
	return cmd
}

func newJoinCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "join SLUG CODE",
		Short: "Redeem an invite",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			ws, err := s.engine.ConsumeInvite(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			in, _ := s.engine.Registry().Get(ws.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "joined %s as %s\n", ws.DisplayName, in.Role)
			return nil
		},
	}
}

func newInviteCmd(opts *options) *cobra.Command {
	var (
		role    string
		hours   int
		maxUses int
	)
	cmd := &cobra.Command{
		Use:   "invite WORKSPACE",
		Short: "Issue an invite; the code is shown once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := model.ParseRole(role)
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.hydrate(cmd.Context()); err != nil {
				return err
			}
			in, err := s.resolve(args[0])
			if err != nil {
				return err
			}

			issued, err := s.client.CreateInvite(cmd.Context(), in.ID, r, hours, maxUses)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "url:  %s\n", issued.URL)
			fmt.Fprintf(out, "slug: %s\n", issued.Invite.Slug)
			fmt.Fprintf(out, "code: %s\n", issued.Code)
			fmt.Fprintf(out, "role %s, %d use(s), expires %s\n", issued.Invite.Role, issued.Invite.MaxUses, issued.Invite.ExpiresAt.Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.RoleEditor), "role granted: admin, editor or viewer")
	cmd.Flags().IntVar(&hours, "hours", 72, "hours until the invite expires")
	cmd.Flags().IntVar(&maxUses, "max-uses", 1, "number of times the invite can be redeemed")
	return cmd
}

type readOutput struct {
	Instance string             `json:"instance"`
	Status   gsync.Status       `json:"status"`
	Revision int64              `json:"revision"`
	Error    string             `json:"error,omitempty"`
	Items    []model.Item       `json:"items,omitempty"`
	All      *model.Collections `json:"collections,omitempty"`
}

func newReadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read WORKSPACE [COLLECTION]",
		Short: "Print a workspace's collections as JSON",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()
			in, err := s.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			st, _ := s.engine.State(in.ID)
			out := readOutput{Instance: in.ID, Status: st.Status, Revision: st.Revision, Error: st.LastError}
			if len(args) == 2 {
				key, err := model.ParseCollectionKey(args[1])
				if err != nil {
					return err
				}
				out.Items = st.Collections.Get(key)
				if out.Items == nil {
					out.Items = []model.Item{}
				}
			} else {
				out.All = &st.Collections
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newAddCmd(opts *options) *cobra.Command {
	var it model.Item
	cmd := &cobra.Command{
		Use:   "add WORKSPACE COLLECTION",
		Short: "Append an item to a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := model.ParseCollectionKey(args[1])
			if err != nil {
				return err
			}
			item := it
			item.ID = model.NewItemID()
			item.Type = key.ItemType()

			return mutate(cmd, opts, args[0], key, func(items []model.Item) []model.Item {
				return append(items, item)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&it.Title, "title", "", "title")
	f.StringVar(&it.Category, "category", "", "category (links, notes)")
	f.StringVar(&it.URL, "url", "", "url (links, statuses)")
	f.StringVar(&it.Content, "content", "", "content (notes, snippets)")
	f.StringVar(&it.Language, "language", "", "language (snippets)")
	f.StringVar(&it.State, "state", "", "state (statuses)")
	f.StringVar(&it.Variant, "variant", "", "variant (statuses)")
	return cmd
}

func newRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove WORKSPACE COLLECTION ITEM_ID",
		Short: "Remove an item from a collection",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := model.ParseCollectionKey(args[1])
			if err != nil {
				return err
			}
			id := args[2]
			return mutate(cmd, opts, args[0], key, func(items []model.Item) []model.Item {
				out := items[:0]
				for _, it := range items {
					if it.ID != id {
						out = append(out, it)
					}
				}
				return out
			})
		},
	}
}

// mutate applies transform to one collection and waits for the server.
func mutate(cmd *cobra.Command, opts *options, ref string, key model.CollectionKey, transform gsync.Transform) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	in, err := s.open(ctx, ref)
	if err != nil {
		return err
	}

	pw, err := s.engine.Mutate(ctx, key, transform)
	if err != nil {
		return err
	}
	if err := pw.Wait(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s now has %d %s (revision %d)\n",
		in.DisplayName, len(pw.Items()), key, pw.Snapshot().Revision)
	return nil
}

func newLeaveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "leave WORKSPACE",
		Short: "Leave a workspace and drop it from the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.hydrate(cmd.Context()); err != nil {
				return err
			}
			in, err := s.resolve(args[0])
			if err != nil {
				return err
			}
			if !in.Remote {
				return fmt.Errorf("the local instance cannot be left")
			}
			if err := s.engine.Leave(cmd.Context(), in.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "left %s\n", in.DisplayName)
			return nil
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch WORKSPACE",
		Short: "Follow a workspace's sync status until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			cancel := s.engine.Subscribe(func(ev gsync.Event) {
				if ev.Kind == gsync.EventNotice {
					fmt.Fprintf(out, "notice: %s\n", ev.Message)
					return
				}
				st, _ := s.engine.State(ev.InstanceID)
				line := fmt.Sprintf("%s %s revision=%d pending=%d", ev.InstanceID, ev.Status, st.Revision, st.PendingLocalChanges)
				if ev.Message != "" {
					line += " (" + ev.Message + ")"
				}
				fmt.Fprintln(out, line)
			})
			defer cancel()

			if _, err := s.open(ctx, args[0]); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
}
