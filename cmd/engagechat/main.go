// Command engagechat is a terminal client for the engagement chat service.
// It signs in, resolves rooms, sends messages over the dual-path transport,
// and tails the realtime feed.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/clioworks/engagechat/internal/config"
	"github.com/clioworks/engagechat/internal/domain"
	"github.com/clioworks/engagechat/internal/identity"
	"github.com/clioworks/engagechat/internal/realtime"
	"github.com/clioworks/engagechat/internal/session"
	"github.com/clioworks/engagechat/internal/sysutil"
	"github.com/clioworks/engagechat/internal/transport"
	"github.com/clioworks/engagechat/internal/wire"
)

var version = "dev"

// app carries the dependencies shared by every subcommand, wired once in the
// root command's Before hook.
type app struct {
	log         zerolog.Logger
	ids         *identity.Store
	client      *transport.Client
	realtimeURL string
}

func main() {
	_ = godotenv.Load()

	var (
		a           = &app{}
		logLevel    string
		pretty      bool
		apiURL      string
		realtimeURL string
		sessionDir  string
	)

	root := &cli.Command{
		Name:    "engagechat",
		Usage:   "Chat client for engagement rooms",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Value:       "warn",
				Destination: &logLevel,
			},
			&cli.BoolFlag{
				Name:        "pretty",
				Usage:       "pretty console logs",
				Value:       true,
				Destination: &pretty,
			},
			&cli.StringFlag{
				Name:        "api-url",
				Usage:       "base URL of the chat service",
				Destination: &apiURL,
			},
			&cli.StringFlag{
				Name:        "realtime-url",
				Usage:       "websocket URL of the realtime feed",
				Destination: &realtimeURL,
			},
			&cli.StringFlag{
				Name:        "session-dir",
				Usage:       "directory holding the login session",
				Destination: &sessionDir,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load()
			if err != nil {
				return ctx, err
			}
			sysutil.SetLogLevel(logLevel)
			a.log = sysutil.NewLogger(os.Stderr, pretty)
			a.ids = identity.NewStore(sysutil.FirstNonEmpty(sessionDir, cfg.Client.SessionDir))
			a.client = transport.NewClient(sysutil.FirstNonEmpty(apiURL, cfg.Client.APIBaseURL), a.ids, a.log)
			a.realtimeURL = sysutil.FirstNonEmpty(realtimeURL, cfg.Client.RealtimeURL)
			return ctx, nil
		},
		Commands: []*cli.Command{
			loginCmd(a),
			logoutCmd(a),
			whoamiCmd(a),
			roomCmd(a),
			sendCmd(a),
			historyCmd(a),
			tailCmd(a),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loginCmd(a *app) *cli.Command {
	var u identity.User
	var token string
	return &cli.Command{
		Name:  "login",
		Usage: "Store the user identity and credential",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user-id", Usage: "durable user ID", Required: true, Destination: &u.ID},
			&cli.StringFlag{Name: "name", Usage: "display name", Destination: &u.Name},
			&cli.StringFlag{Name: "email", Usage: "email address", Destination: &u.Email},
			&cli.StringFlag{Name: "token", Usage: "bearer credential", Required: true, Destination: &token},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := a.ids.Save(u, token); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Printf("signed in as %s\n", u.ID)
			return nil
		},
	}
}

func logoutCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Remove the stored session",
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.ids.Clear()
		},
	}
}

func whoamiCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Print the signed-in user ID",
		Action: func(ctx context.Context, c *cli.Command) error {
			id, ok := a.ids.CurrentUserID()
			if !ok {
				return fmt.Errorf("not signed in")
			}
			fmt.Println(id)
			return nil
		},
	}
}

func roomCmd(a *app) *cli.Command {
	var title string
	return &cli.Command{
		Name:  "room",
		Usage: "Resolve and manage chat rooms",
		Commands: []*cli.Command{
			{
				Name:      "engagement",
				Usage:     "Resolve the room bound to an engagement",
				ArgsUsage: "<engagement-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("expected exactly one engagement ID")
					}
					room, err := a.client.GetRoomByEngagement(ctx, c.Args().First())
					if err != nil {
						return err
					}
					fmt.Printf("%s\t%s\n", room.ID, room.Title)
					return nil
				},
			},
			{
				Name:      "create-direct",
				Usage:     "Create (or reuse) a direct room with another user",
				ArgsUsage: "<partner-user-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "room title", Destination: &title},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("expected exactly one partner user ID")
					}
					room, err := a.client.CreateDirectRoom(ctx, c.Args().First(), title)
					if err != nil {
						return err
					}
					fmt.Printf("%s\t%s\n", room.ID, room.Title)
					return nil
				},
			},
			{
				Name:      "add-members",
				Usage:     "Add users to a room",
				ArgsUsage: "<room-id> <user-id>...",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() < 2 {
						return fmt.Errorf("expected a room ID and at least one user ID")
					}
					args := c.Args().Slice()
					return a.client.AddMembers(ctx, args[0], args[1:])
				},
			},
		},
	}
}

func sendCmd(a *app) *cli.Command {
	var roomID, text, file string
	return &cli.Command{
		Name:  "send",
		Usage: "Send a message to a room",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "room", Usage: "target room ID", Required: true, Destination: &roomID},
			&cli.StringFlag{Name: "text", Usage: "message text", Destination: &text},
			&cli.StringFlag{Name: "file", Usage: "path of a file to attach", Destination: &file},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			out := transport.Outgoing{Text: text, Type: domain.MessageText}
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				info, err := f.Stat()
				if err != nil {
					return err
				}
				url, err := a.client.UploadFile(ctx, filepath.Base(file), f)
				if err != nil {
					return fmt.Errorf("upload: %w", err)
				}
				out.Type = domain.MessageDocument
				out.FileURL = url
				out.FileName = filepath.Base(file)
				out.FileSize = info.Size()
			}
			if out.Text == "" && out.FileURL == "" {
				return fmt.Errorf("nothing to send: pass --text or --file")
			}

			rec, err := a.client.SendMessage(ctx, roomID, out)
			if err != nil {
				return err
			}
			msg := wire.Normalize(*rec)
			fmt.Printf("sent %s at %s\n", msg.ID, msg.SentAt.Format(time.RFC3339))
			return nil
		},
	}
}

func historyCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Print a room's message history",
		ArgsUsage: "<room-id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one room ID")
			}
			records, err := a.client.GetMessages(ctx, c.Args().First())
			if err != nil {
				return err
			}
			msgs := make([]domain.Message, 0, len(records))
			for _, rec := range records {
				msgs = append(msgs, wire.Normalize(rec))
			}
			sort.SliceStable(msgs, func(i, j int) bool {
				return msgs[i].SentAtMillis < msgs[j].SentAtMillis
			})
			for _, m := range msgs {
				printMessage(os.Stdout, m)
			}
			return nil
		},
	}
}

func tailCmd(a *app) *cli.Command {
	var roomID, engagementID string
	return &cli.Command{
		Name:  "tail",
		Usage: "Follow a room's messages live",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "room", Usage: "room ID to follow", Destination: &roomID},
			&cli.StringFlag{Name: "engagement", Usage: "engagement whose room to follow", Destination: &engagementID},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if roomID == "" && engagementID == "" {
				return fmt.Errorf("pass --room or --engagement")
			}

			feed := realtime.NewFeed(a.realtimeURL, a.ids, a.log)
			sess := session.New(a.client, session.FeedFunc(func(ctx context.Context, roomID string, onInsert func(domain.Message)) (io.Closer, error) {
				return feed.Subscribe(ctx, roomID, onInsert)
			}), a.ids, a.log)
			defer sess.Close()

			if err := sess.Bind(ctx, roomID, engagementID); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "following %s (ctrl-c to stop)\n", sess.RoomID())

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			printed := 0
			var lastWarn string
			for {
				msgs := sess.Messages()
				if printed > len(msgs) {
					printed = len(msgs)
				}
				for _, m := range msgs[printed:] {
					printMessage(os.Stdout, m)
					printed++
				}
				if err := sess.Err(); err != nil && err.Error() != lastWarn {
					lastWarn = err.Error()
					fmt.Fprintln(os.Stderr, "warning:", err)
				}
				select {
				case <-sess.Updates():
				case <-stop:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		},
	}
}

// printMessage renders one line per message: timestamp, sender, body.
func printMessage(w io.Writer, m domain.Message) {
	body := m.Text
	if body == "" && m.FileURL != "" {
		body = "[file] " + m.FileURL
	}
	fmt.Fprintf(w, "%s  %-12s  %s\n", m.SentAt.Format(time.RFC3339), m.SenderID, body)
}
