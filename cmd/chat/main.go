// Command chat is a terminal client for one conversation: it loads the
// history, prints pushed messages and typing state, and sends each line read
// from stdin.
//
//	chat -user ana -peer ben
//	chat -user ana -conversation <id>
//	chat -user ana -church <id>
//
// Lines starting with "/upload <path>" attach a file, "/retry" resends the
// last failed message and "/quit" exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/apiclient"
	"github.com/adi-253/fellowship/internal/config"
	"github.com/adi-253/fellowship/internal/conversation"
	"github.com/adi-253/fellowship/internal/format"
	"github.com/adi-253/fellowship/internal/logger"
	"github.com/adi-253/fellowship/internal/models"
	"github.com/adi-253/fellowship/internal/socket"
)

func main() {
	userID := flag.String("user", os.Getenv("CHAT_USER"), "local user id")
	peerID := flag.String("peer", "", "counterpart of a direct chat")
	convID := flag.String("conversation", "", "existing conversation id")
	churchID := flag.String("church", "", "church whose group chat to open")
	flag.Parse()

	cfg, warnings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// stdout belongs to the conversation
	log := logger.NewWithWriter(os.Stderr, "fellowship-chat", cfg.LogLevel, cfg.Development)
	for _, w := range warnings {
		log.Debug().Msg(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *userID, *peerID, *convID, *churchID); err != nil {
		log.Error().Err(err).Msg("Chat ended")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, userID, peerID, convID, churchID string) error {
	if userID == "" {
		return errors.New("-user is required")
	}

	conn, err := socket.Dial(ctx, cfg.WebSocketURL, userID, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	api := apiclient.New(cfg.APIBaseURL,
		apiclient.WithMaxUploadSize(cfg.MaxUploadSize),
		apiclient.WithLogger(log),
	)

	view := &screen{out: os.Stdout, self: userID, base: cfg.APIBaseURL}
	opts := conversation.Options{
		ConversationID: convID,
		SelfID:         userID,
		PeerID:         peerID,
		TypingTimeout:  cfg.TypingTimeout,
		Log:            log,
	}
	if churchID != "" {
		opts.ConversationID = churchID
		opts.PeerID = ""
		opts.Events = conversation.ChurchEvents
	}

	opts.OnChange = view.refresh
	conv, err := conversation.New(api, conn.Scope(), opts)
	if err != nil {
		return err
	}
	defer conv.Close()
	view.attach(conv)

	if err := conv.LoadHistory(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if err := conv.Focus(); err != nil {
		log.Debug().Err(err).Msg("Failed to send read receipt")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return errors.New("connection to the server was lost")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, conv, api, line); quit {
				return nil
			}
		}
	}
}

// handleLine runs one input line and reports whether the user asked to quit.
func handleLine(ctx context.Context, conv *conversation.Conversation, api *apiclient.Client, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/retry":
		retryLast(ctx, conv)
	case strings.HasPrefix(line, "/upload "):
		sendFile(ctx, conv, api, strings.TrimSpace(strings.TrimPrefix(line, "/upload ")))
	default:
		if _, err := conv.Send(ctx, line, nil); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return false
}

func retryLast(ctx context.Context, conv *conversation.Conversation) {
	msgs := conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Status == models.StatusFailed {
			if _, err := conv.Retry(ctx, msgs[i].ID); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			return
		}
	}
	fmt.Fprintln(os.Stderr, "nothing to retry")
}

func sendFile(ctx context.Context, conv *conversation.Conversation, api *apiclient.Client, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}

	att, err := api.UploadAttachment(ctx, filepath.Base(path), info.Size(), f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	if _, err := conv.Send(ctx, "", att); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

// screen redraws the conversation as plain text.
type screen struct {
	mu   sync.Mutex
	out  io.Writer
	self string
	base string
	conv *conversation.Conversation
}

func (s *screen) attach(conv *conversation.Conversation) {
	s.mu.Lock()
	s.conv = conv
	s.mu.Unlock()
	s.refresh()
}

// refresh is the OnChange hook; changes before attach are drawn by attach.
func (s *screen) refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return
	}
	conv := s.conv

	now := time.Now()
	fmt.Fprint(s.out, "\033[H\033[2J")
	for _, msg := range conv.Messages() {
		name := msg.SenderID
		if msg.Sender != nil && msg.Sender.Name != "" {
			name = fmt.Sprintf("%s <%s>", msg.Sender.Name, format.AvatarURL(msg.Sender.Avatar, s.base, msg.Sender.Name))
		}
		if msg.SenderID == s.self {
			name = "you"
		}

		line := fmt.Sprintf("[%s] %s: %s", format.Ago(msg.CreatedAt, now), name, msg.Content)
		if msg.Attachment != nil {
			line += fmt.Sprintf(" (%s, %s %s)", msg.Attachment.Name,
				format.FileSize(msg.Attachment.Size), msg.Attachment.URL)
		}
		switch msg.Status {
		case models.StatusOptimistic:
			line += " ..."
		case models.StatusFailed:
			line += " [failed, /retry]"
		default:
			if msg.SenderID == s.self && msg.Read {
				line += " ✓✓"
			}
		}
		fmt.Fprintln(s.out, line)
	}
	if conv.IsPeerTyping() {
		fmt.Fprintln(s.out, "typing...")
	}
}
