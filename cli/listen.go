package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/campushub/campushub/client"
	"github.com/campushub/campushub/config"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var listenFlags struct {
	server string
	token  string
	user   string
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Follow a user's notifications from the terminal",
	Long: `Connects to the push channel as a user, prints the backfilled list and an
alert for every live notification, and reconnects with exponential backoff
(client.backoff_base, client.backoff_cap, client.max_retries).

Authenticate with --token, or with --user to mint a token from the local
session keys. Commands on stdin:
  list          print the cached notifications
  read <id>     mark one notification read
  all           mark every notification read
  refresh       fetch the first page again
  connect       reconnect after giving up
  quit          disconnect and exit`,
	RunE: runListen,
}

func init() {
	f := listenCmd.Flags()
	f.StringVarP(&listenFlags.server, "server", "s", "", "server URL (default client.server_url)")
	f.StringVar(&listenFlags.token, "token", "", "push token")
	f.StringVarP(&listenFlags.user, "user", "u", "", "user id to mint a token for")
	listenCmd.MarkFlagsOneRequired("token", "user")
	listenCmd.MarkFlagsMutuallyExclusive("token", "user")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	serverURL := listenFlags.server
	if serverURL == "" {
		serverURL = cfg.Client.ServerURL
	}

	tokens, err := listenTokenSource(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()
	cache := client.NewCache(client.DefaultWindow)
	c := client.New(
		client.NewWebSocketDialer(serverURL, tokens),
		client.NewRESTClient(serverURL, tokens),
		cache,
		client.Options{
			Backoff: client.Backoff{
				Base:       cfg.Client.BackoffBase,
				Cap:        cfg.Client.BackoffCap,
				MaxRetries: cfg.Client.MaxRetries,
			},
			KeepAlive:  cfg.Push.KeepAlive,
			FetchLimit: cfg.Push.FetchWindow,
			OnAlert: func(a client.Alert) {
				fmt.Fprintf(out, "%s [%s] %s", a.Style.Icon, a.Notification.Type, a.Notification.Title)
				if a.Notification.Message != "" {
					fmt.Fprintf(out, ": %s", a.Notification.Message)
				}
				fmt.Fprintln(out)
			},
		},
	)

	var mu sync.Mutex
	last := client.StateIdle
	unsubscribe := cache.Subscribe(func(s client.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Status == last {
			return
		}
		last = s.Status
		log.Info().
			Str("status", s.Status.String()).
			Int("unread", s.UnreadCount).
			Msg("Push channel status")
		if s.Status == client.StateGivenUp {
			fmt.Fprintln(out, "gave up reconnecting; type 'connect' to retry")
		}
	})
	defer unsubscribe()

	c.Connect()
	defer c.Disconnect()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if quit := runListenCommand(ctx, out, c, line); quit {
				return nil
			}
		}
	}
}

func listenTokenSource(cfg *config.Config) (client.TokenSource, error) {
	if listenFlags.token != "" {
		return client.StaticToken(listenFlags.token), nil
	}

	userID, err := uuid.Parse(listenFlags.user)
	if err != nil {
		return nil, fmt.Errorf("invalid --user: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("minting a token needs the session keys: %w", err)
	}
	issuer := newTokenIssuer(cfg)
	return func(context.Context) (string, error) {
		token, _, err := issuer.Issue(userID)
		return token, err
	}, nil
}

// runListenCommand executes one stdin command and reports whether to quit.
func runListenCommand(ctx context.Context, out io.Writer, c *client.Client, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "exit":
		return true
	case "list":
		printSnapshot(out, c.Cache().State())
	case "read":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: read <id>")
			return false
		}
		id, err := uuid.Parse(fields[1])
		if err != nil {
			fmt.Fprintf(out, "invalid id: %v\n", err)
			return false
		}
		c.MarkAsRead(ctx, id)
	case "all":
		c.MarkAllAsRead(ctx)
	case "refresh":
		if err := c.Refresh(); err != nil {
			fmt.Fprintf(out, "refresh: %v\n", err)
		}
	case "connect":
		c.Connect()
	default:
		fmt.Fprintf(out, "unknown command %q\n", fields[0])
	}
	return false
}

func printSnapshot(out io.Writer, s client.Snapshot) {
	fmt.Fprintf(out, "%s, %d unread\n", s.Status, s.UnreadCount)
	for _, n := range s.Notifications {
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %s %s %-20s %s\n", mark, n.ID, n.CreatedAt.Local().Format("Jan 02 15:04"), n.Type, n.Title)
	}
}
