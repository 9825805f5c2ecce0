package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/enterchat/internal/api"
	"github.com/matheus3301/enterchat/internal/bridge"
	"github.com/matheus3301/enterchat/internal/lock"
	"github.com/matheus3301/enterchat/internal/session"
	"github.com/matheus3301/enterchat/internal/wa"
	"github.com/spf13/cobra"
)

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if !pingDaemon(g.socket) {
				if pid, held := lock.Holder(session.Dir(g.profile)); held {
					return fmt.Errorf("daemon for profile %q (PID %d) is not answering on %s", g.profile, pid, g.socket)
				}
				return fmt.Errorf("daemon for profile %q is not running (try: enterchatctl start)", g.profile)
			}
			return g.run(func(ctx context.Context, c *api.Client) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				return g.emit(st, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Profile:       %s\n", st.Profile)
					_, _ = fmt.Fprintf(w, "State:         %s\n", st.State)
					_, _ = fmt.Fprintf(w, "Uptime:        %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
					_, _ = fmt.Fprintf(w, "Active apps:   %s\n", strings.Join(st.ActiveApps, ", "))
					_, _ = fmt.Fprintf(w, "Conversations: %d\n", st.Conversations)
					_, _ = fmt.Fprintf(w, "Messages:      %d\n", st.Messages)
					if st.DroppedEvents > 0 {
						_, _ = fmt.Fprintf(w, "Dropped:       %d events\n", st.DroppedEvents)
					}
					ids := make([]string, 0, len(st.LastSync))
					for id := range st.LastSync {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					for _, id := range ids {
						_, _ = fmt.Fprintf(w, "Last sync %s: %s\n", id, st.LastSync[id].Local().Format(time.DateTime))
					}
				})
			})
		},
	}
}

func appsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List the app catalog",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return g.run(func(ctx context.Context, c *api.Client) error {
				resp, err := c.ListApps(ctx)
				if err != nil {
					return err
				}
				return g.emit(resp, func(w io.Writer) {
					now := time.Now()
					tw := table(w)
					_, _ = fmt.Fprintln(tw, "ID\tNAME\tKIND\tACTIVE\tLINK\tLAST SYNC")
					for _, a := range resp.Apps {
						active := "no"
						if a.Active {
							active = "yes"
						}
						link := a.LinkState
						if link == "" {
							link = "-"
						}
						_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.DisplayName, a.Kind, active, link, ago(a.LastSync, now))
					}
					_ = tw.Flush()
				})
			})
		},
	}
}

func connectCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <app>",
		Short: "Activate an app; linked-device apps print a pairing QR code when needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			appID := args[0]
			return g.run(func(ctx context.Context, c *api.Client) error {
				apps, err := c.ListApps(ctx)
				if err != nil {
					return err
				}
				kind := ""
				for _, a := range apps.Apps {
					if a.ID == appID {
						kind = a.Kind
					}
				}
				if kind != "protocol" {
					ack, err := c.ConnectApp(ctx, appID)
					if err != nil {
						return err
					}
					return g.emit(ack, func(w io.Writer) { _, _ = fmt.Fprintln(w, ack.Message) })
				}
				return connectLinked(g, c, appID)
			})
		},
	}
}

// connectLinked watches session events while the daemon links the app, so
// pairing codes reach the terminal. It returns once the link is connected
// or pairing ends.
func connectLinked(g *globals, c *api.Client, appID string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, "session.", func(env *api.EventEnvelope) error {
			if env.AppID != appID {
				return nil
			}
			var evt wa.AuthEvent
			if err := json.Unmarshal(env.Payload, &evt); err != nil {
				return nil
			}
			switch evt.Type {
			case wa.AuthEventQRCode:
				if g.json {
					return outputJSON(os.Stdout, env)
				}
				fmt.Println("Scan this code with the phone app (Linked devices):")
				fmt.Print(renderQR(evt.QRCode))
			case wa.AuthEventAuthenticated:
				fmt.Println("Linked.")
				return io.EOF
			case wa.AuthEventAuthFailed, wa.AuthEventTimeout:
				return fmt.Errorf("pairing failed: %s", evt.Message)
			}
			return nil
		})
	}()
	// Give the stream time to subscribe before pairing starts.
	time.Sleep(200 * time.Millisecond)

	callCtx, callCancel := context.WithTimeout(ctx, g.timeout)
	defer callCancel()
	ack, err := c.ConnectApp(callCtx, appID)
	if err != nil {
		return err
	}
	apps, err := c.ListApps(callCtx)
	if err != nil {
		return err
	}
	for _, a := range apps.Apps {
		if a.ID == appID && a.LinkState == "CONNECTED" {
			cancel()
			<-done
			return g.emit(ack, func(w io.Writer) { _, _ = fmt.Fprintln(w, ack.Message) })
		}
	}

	fmt.Fprintln(os.Stderr, "Waiting for pairing, press Ctrl-C to abort...")
	err = <-done
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func disconnectCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <app>",
		Short: "Deactivate an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *api.Client) error {
				ack, err := c.DisconnectApp(ctx, args[0])
				if err != nil {
					return err
				}
				return g.emit(ack, func(w io.Writer) { _, _ = fmt.Fprintln(w, ack.Message) })
			})
		},
	}
}

func syncCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [app]",
		Short: "Sync all active apps, or one app",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			appID := ""
			if len(args) == 1 {
				appID = args[0]
			}
			return g.run(func(ctx context.Context, c *api.Client) error {
				rep, err := c.Sync(ctx, appID)
				if err != nil {
					return err
				}
				return g.emit(rep, func(w io.Writer) { printSyncReport(w, rep) })
			})
		},
	}
}

func printSyncReport(w io.Writer, rep *bridge.SyncReport) {
	tw := table(w)
	_, _ = fmt.Fprintln(tw, "APP\tRESULT\tCONVERSATIONS\tMESSAGES\tSKIPPED\tTOOK")
	for _, a := range rep.Apps {
		result := "ok"
		if !a.OK {
			result = "failed"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", a.AppID, result, a.Conversations, a.Messages, a.Skipped, a.Duration.Round(time.Millisecond))
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "%d ok, %d failed in %s\n", rep.Succeeded, rep.Failed, rep.Duration.Round(time.Millisecond))
}

func sendCmd(g *globals) *cobra.Command {
	var attachments []string
	cmd := &cobra.Command{
		Use:   "send <app> <conversation> <text>",
		Short: "Send a message now",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *api.Client) error {
				resp, err := c.SendMessage(ctx, api.SendRequest{AppID: args[0], ConversationID: args[1], Text: args[2], Attachments: attachments})
				if err != nil {
					return err
				}
				return g.emit(resp, func(w io.Writer) { printSendResult(w, resp) })
			})
		},
	}
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "file to attach (repeatable)")
	return cmd
}

func queueCmd(g *globals) *cobra.Command {
	var attachments []string
	cmd := &cobra.Command{
		Use:   "queue <app> <conversation> <text>",
		Short: "Queue a message for background delivery",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *api.Client) error {
				resp, err := c.QueueMessage(ctx, api.SendRequest{AppID: args[0], ConversationID: args[1], Text: args[2], Attachments: attachments})
				if err != nil {
					return err
				}
				return g.emit(resp, func(w io.Writer) { _, _ = fmt.Fprintf(w, "Queued %s\n", resp.ClientMsgID) })
			})
		},
	}
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "file to attach (repeatable)")
	return cmd
}

func sendToCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "send-to <app> <contact name> <text>",
		Short: "Send to a contact found by name",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *api.Client) error {
				resp, err := c.SendToContact(ctx, api.SendToContactRequest{AppID: args[0], Name: args[1], Text: args[2]})
				if err != nil {
					return err
				}
				return g.emit(resp, func(w io.Writer) { printSendResult(w, resp) })
			})
		},
	}
}

func printSendResult(w io.Writer, resp *api.SendResponse) {
	if resp.OK {
		_, _ = fmt.Fprintln(w, "Sent.")
		return
	}
	_, _ = fmt.Fprintln(w, "Not sent: the app did not confirm delivery.")
}

func bulkSendCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-send <app> <text> <conversation>...",
		Short: "Send the same text to several conversations",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *api.Client) error {
				res, err := c.BulkSend(ctx, api.BulkSendRequest{AppID: args[0], Text: args[1], ConversationIDs: args[2:]})
				if err != nil {
					return err
				}
				return g.emit(res, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Sent %d, failed %d\n", len(res.Sent), len(res.Failed))
					for _, id := range res.Failed {
						_, _ = fmt.Fprintf(w, "  failed: %s\n", id)
					}
				})
			})
		},
	}
}

func inboxCmd(g *globals) *cobra.Command {
	var req api.ListConversationsRequest
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List conversations across apps",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return g.run(func(ctx context.Context, c *api.Client) error {
				resp, err := c.ListConversations(ctx, req)
				if err != nil {
					return err
				}
				return g.emit(resp, func(w io.Writer) {
					printConversations(w, resp.Conversations, time.Now())
					if resp.HasMore {
						_, _ = fmt.Fprintf(w, "(more: --offset %d)\n", req.Offset+len(resp.Conversations))
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.AppID, "app", "", "only this app")
	cmd.Flags().BoolVar(&req.IncludeArchived, "archived", false, "include archived conversations")
	cmd.Flags().BoolVar(&req.UnreadOnly, "unread", false, "only conversations with unread messages")
	cmd.Flags().IntVar(&req.Limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&req.Offset, "offset", 0, "page offset")
	return cmd
}

func messagesCmd(g *globals) *cobra.Command {
	var (
		limit  int
		before string
	)
	cmd := &cobra.Command{
		Use:   "messages <app> <conversation>",
		Short: "Show a conversation's messages",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			req := api.ListMessagesRequest{AppID: args[0], ConversationID: args[1], Limit: limit}
			if before != "" {
				t, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("--before: %w", err)
				}
				req.BeforeUnixMs = t.UnixMilli()
			}
			return g.run(func(ctx context.Context, c *api.Client) error {
				resp, err := c.ListMessages(ctx, req)
				if err != nil {
					return err
				}
				return g.emit(resp, func(w io.Writer) {
					printMessages(w, resp.Messages)
					if resp.HasMore && len(resp.Messages) > 0 {
						oldest := resp.Messages[len(resp.Messages)-1].Timestamp
						_, _ = fmt.Fprintf(w, "(more: --before %s)\n", oldest.UTC().Format(time.RFC3339))
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&before, "before", "", "only messages older than this RFC3339 time")
	return cmd
}

func searchCmd(g *globals) *cobra.Command {
	var req api.SearchRequest
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over stored messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req.Query = strings.Join(args, " ")
			return g.run(func(ctx context.Context, c *api.Client) error {
				resp, err := c.SearchMessages(ctx, req)
				if err != nil {
					return err
				}
				return g.emit(resp, func(w io.Writer) {
					if len(resp.Results) == 0 {
						_, _ = fmt.Fprintln(w, "No matches.")
						return
					}
					tw := table(w)
					for _, h := range resp.Results {
						_, _ = fmt.Fprintf(tw, "%s\t%s/%s\t%s\n",
							h.Message.Timestamp.Local().Format("2006-01-02 15:04"), h.Message.SourceAppID, h.Message.SourceConversationID, preview(h.Snippet, 60))
					}
					_ = tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.AppID, "app", "", "only this app")
	cmd.Flags().IntVar(&req.Limit, "limit", 20, "max results")
	return cmd
}

func readCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "read <app> <conversation>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.ack(func(ctx context.Context, c *api.Client) (*api.Ack, error) {
				return c.MarkRead(ctx, args[0], args[1])
			})
		},
	}
}

func archiveCmd(g *globals) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "archive <app> <conversation>",
		Short: "Archive or unarchive a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.ack(func(ctx context.Context, c *api.Client) (*api.Ack, error) {
				return c.Archive(ctx, api.ArchiveRequest{AppID: args[0], ConversationID: args[1], Archived: !undo})
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "unarchive instead")
	return cmd
}

func deleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <app> <conversation>",
		Short: "Delete a conversation and its messages from the local store",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.ack(func(ctx context.Context, c *api.Client) (*api.Ack, error) {
				return c.DeleteConversation(ctx, args[0], args[1])
			})
		},
	}
}

func unreadCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Show unread counts",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return g.run(func(ctx context.Context, c *api.Client) error {
				resp, err := c.UnreadCounts(ctx)
				if err != nil {
					return err
				}
				return g.emit(resp, func(w io.Writer) {
					ids := make([]string, 0, len(resp.ByApp))
					for id := range resp.ByApp {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					for _, id := range ids {
						_, _ = fmt.Fprintf(w, "%-12s %d\n", id, resp.ByApp[id])
					}
					_, _ = fmt.Fprintf(w, "%-12s %d\n", "total", resp.Total)
				})
			})
		},
	}
}

func sessionsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List apps with a stored session",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return g.run(func(ctx context.Context, c *api.Client) error {
				resp, err := c.ListSessions(ctx)
				if err != nil {
					return err
				}
				return g.emit(resp, func(w io.Writer) {
					if len(resp.AppIDs) == 0 {
						_, _ = fmt.Fprintln(w, "No stored sessions.")
						return
					}
					for _, id := range resp.AppIDs {
						_, _ = fmt.Fprintln(w, id)
					}
				})
			})
		},
	}
}

func clearSessionCmd(g *globals) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear-session [app]",
		Short: "Forget the stored session of an app, or of all apps with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			appID := ""
			switch {
			case len(args) == 1:
				appID = args[0]
			case !all:
				return errors.New("name an app or pass --all")
			}
			return g.ack(func(ctx context.Context, c *api.Client) (*api.Ack, error) {
				return c.ClearSession(ctx, appID)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "clear every stored session")
	return cmd
}

func watchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [prefix]",
		Short: "Stream daemon events, optionally filtered by kind prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			c, err := api.Dial(g.socket)
			if err != nil {
				return fmt.Errorf("cannot connect to daemon for profile %q: %w", g.profile, err)
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return c.Watch(ctx, prefix, func(env *api.EventEnvelope) error {
				if g.json {
					return outputJSON(os.Stdout, env)
				}
				at := time.UnixMilli(env.OccurredAtUnixMs).Local().Format("15:04:05.000")
				fmt.Printf("%s %-28s %-10s %s\n", at, env.Kind, env.AppID, preview(string(env.Payload), 80))
				return nil
			})
		},
	}
}

// ack runs a call that returns an acknowledgement and prints it.
func (g *globals) ack(fn func(ctx context.Context, c *api.Client) (*api.Ack, error)) error {
	return g.run(func(ctx context.Context, c *api.Client) error {
		a, err := fn(ctx, c)
		if err != nil {
			return err
		}
		return g.emit(a, func(w io.Writer) { _, _ = fmt.Fprintln(w, a.Message) })
	})
}
