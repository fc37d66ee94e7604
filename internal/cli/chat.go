package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/conthunt/streamcore/internal/chat"
	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/internal/search"
)

var (
	chatModel  string
	chatFollow bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [chat-id] [message]",
	Short: "Send a message to the research assistant",
	Long: `Sends one message and streams the assistant's reply. Searches the
assistant starts are listed, or streamed with --follow.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model to answer with (backend default if empty)")
	chatCmd.Flags().BoolVar(&chatFollow, "follow", false, "stream the searches the assistant starts")
	rootCmd.AddCommand(chatCmd)
}

type chatOutput struct {
	ChatID   string              `json:"chat_id" yaml:"chat_id"`
	Messages []model.ChatMessage `json:"messages" yaml:"messages"`
	Searches []searchOutput      `json:"searches,omitempty" yaml:"searches,omitempty"`
}

// toolSearch is the part of a search tool result the CLI reads.
type toolSearch struct {
	SearchID string `json:"search_id"`
	Query    string `json:"query"`
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	chatID := args[0]
	content := strings.Join(args[1:], " ")
	w := cmd.OutOrStdout()
	live := outputFormat == string(formatText)

	var (
		mu      sync.Mutex
		printed int
		started []toolSearch
		sess    *chat.Session
	)

	sess, err := chat.NewSession(chat.SessionOptions{
		ChatID:   chatID,
		Model:    chatModel,
		UserID:   rt.cfg.DevUserID,
		Backend:  rt.client,
		Streamer: rt.consumer,
		Logger:   rt.log,
		OnToolResult: func(call model.StreamingToolCall) {
			var ts toolSearch
			if err := json.Unmarshal(call.Result, &ts); err != nil || ts.SearchID == "" {
				return
			}
			mu.Lock()
			started = append(started, ts)
			mu.Unlock()
		},
		OnChange: func() {
			if !live {
				return
			}
			st, ok := sess.Streaming()
			if !ok {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if len(st.Content) > printed {
				fmt.Fprint(w, st.Content[printed:])
				printed = len(st.Content)
			}
		},
	})
	if err != nil {
		return err
	}

	if err := sess.Send(ctx, content); err != nil {
		return err
	}
	if err := sess.Wait(ctx); err != nil {
		sess.Stop()
		if live {
			fmt.Fprintln(w, " [stopped]")
		}
		return err
	}
	if live {
		mu.Lock()
		p := printed
		mu.Unlock()
		finishLine(w, sess, p)
	}
	if err := sess.Err(); err != nil {
		return errors.New(model.UserMessage(err))
	}

	out := chatOutput{ChatID: chatID, Messages: sess.Messages()}
	mu.Lock()
	searches := append([]toolSearch(nil), started...)
	mu.Unlock()

	for _, ts := range searches {
		if !chatFollow {
			if live {
				fmt.Fprintf(w, "Started search %q: conthunt attach %s\n", ts.Query, ts.SearchID)
			}
			continue
		}
		so, err := followToolSearch(ctx, ts)
		if err != nil {
			return err
		}
		out.Searches = append(out.Searches, so)
	}

	if live {
		for _, so := range out.Searches {
			fmt.Fprintln(w)
			if err := printItems(w, so); err != nil {
				return err
			}
		}
		return nil
	}
	return render(w, out, nil)
}

// finishLine prints the part of the final reply not yet streamed.
func finishLine(w io.Writer, sess *chat.Session, printed int) {
	msgs := sess.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != model.RoleAssistant {
			continue
		}
		if len(msgs[i].Content) > printed {
			fmt.Fprint(w, msgs[i].Content[printed:])
		}
		break
	}
	fmt.Fprintln(w)
}

func followToolSearch(ctx context.Context, ts toolSearch) (searchOutput, error) {
	sess, err := search.NewSession(search.Options{
		Backend:  rt.client,
		Streamer: rt.consumer,
		Logger:   rt.log,
		UserID:   rt.cfg.DevUserID,
	})
	if err != nil {
		return searchOutput{}, err
	}
	defer sess.Shutdown()

	if err := sess.Attach(ctx, cliTab, ts.SearchID); err != nil {
		return searchOutput{}, err
	}
	if err := follow(ctx, sess); err != nil {
		return searchOutput{}, err
	}

	info, _ := sess.Info(cliTab)
	return searchOutput{
		SearchID: ts.SearchID,
		Query:    ts.Query,
		Total:    info.Items,
		HasMore:  info.HasMore,
		Failed:   sess.PlatformErrors(cliTab),
		Items:    sess.Results(cliTab),
	}, nil
}
