package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/enterchat/internal/model"
)

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emit prints v as JSON when requested, otherwise calls human.
func (g *globals) emit(v any, human func(w io.Writer)) error {
	if g.json {
		return outputJSON(os.Stdout, v)
	}
	human(os.Stdout)
	return nil
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// preview shortens s to one line of at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func ago(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	d := now.Sub(*t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func printConversations(w io.Writer, convs []model.Conversation, now time.Time) {
	if len(convs) == 0 {
		_, _ = fmt.Fprintln(w, "No conversations.")
		return
	}
	tw := table(w)
	_, _ = fmt.Fprintln(tw, "APP\tID\tNAME\tUNREAD\tLAST\tPREVIEW")
	for _, c := range convs {
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprint(c.UnreadCount)
		}
		name := c.DisplayName
		if c.IsPinned {
			name = "* " + name
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.SourceAppID, c.ConversationID, name, unread, ago(c.LastMessageTime, now), preview(c.LastMessageContent, 40))
	}
	_ = tw.Flush()
}

// printMessages prints oldest first; the API returns newest first.
func printMessages(w io.Writer, msgs []model.Message) {
	if len(msgs) == 0 {
		_, _ = fmt.Fprintln(w, "No messages.")
		return
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		arrow := "<"
		if m.Direction == model.Outgoing {
			arrow = ">"
		}
		content := m.Content
		if content == "" && len(m.AttachmentURLs) > 0 {
			content = fmt.Sprintf("[%s: %s]", m.ContentType, strings.Join(m.AttachmentURLs, ", "))
		}
		_, _ = fmt.Fprintf(w, "%s %s %-9s %s\n", m.Timestamp.Local().Format("2006-01-02 15:04"), arrow, m.Status, content)
	}
}
