// chatroom CLI - command line client for the chatroom API
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatroom/clients/go/chatroom"
	"github.com/eldtechnologies/chatroom/internal/chat"
	"github.com/eldtechnologies/chatroom/internal/models"
	"github.com/eldtechnologies/chatroom/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := chatroom.NewClient(os.Getenv("CHATROOM_URL"))
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "create":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chatroom create <room name> <your name>")
			os.Exit(1)
		}
		session, err := chat.CreateWithGeneratedCode(ctx, client, os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("Created room %s, share this code to invite others\n", session.RoomCode())
		exitOnError(interactive(ctx, session, os.Stdin, os.Stdout))

	case "join":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chatroom join <code> <your name>")
			os.Exit(1)
		}
		session, err := chat.Join(ctx, client, os.Args[2], os.Args[3])
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "No room with code %s\n", os.Args[2])
			os.Exit(1)
		}
		exitOnError(err)
		fmt.Printf("Joined room %s as %s\n", session.RoomCode(), session.DisplayName())
		exitOnError(interactive(ctx, session, os.Stdin, os.Stdout))

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatroom read <code>")
			os.Exit(1)
		}
		msgs, err := client.FetchMessages(ctx, os.Args[2], 0)
		exitOnError(err)
		for _, msg := range msgs {
			ts := msg.Time().Format("2006-01-02 15:04:05")
			fmt.Printf("[%s] %s: %s\n", ts, msg.Author, msg.Body)
		}

	case "post":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: chatroom post <code> <your name> <message>")
			os.Exit(1)
		}
		msg := &models.Message{Author: os.Args[3], Body: strings.Join(os.Args[4:], " ")}
		exitOnError(client.AppendMessage(ctx, os.Args[2], msg))
		fmt.Printf("Posted: %s (#%d)\n", msg.ID, msg.Seq)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// interactive sends each input line and prints deliveries until input ends
// or ctx is cancelled.
func interactive(ctx context.Context, session *chat.Session, in io.Reader, out io.Writer) error {
	defer session.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.WarnLevel)

	printer := newPrinter(out)
	poller := chat.NewPoller(
		chat.WithInterval(chat.ClampPollInterval(pollInterval())),
		chat.WithLogger(logger),
	)

	done := make(chan error, 1)
	go func() {
		done <- poller.Run(ctx, session, printer.print)
	}()

	lines := make(chan string)
	go scanLines(ctx, in, lines)

	for {
		select {
		case <-ctx.Done():
			return <-done
		case err := <-done:
			return err
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				cancel()
				return <-done
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			msg, err := session.Send(ctx, line)
			if errors.Is(err, store.ErrUnavailable) {
				// Same ID, so a late first attempt is not duplicated
				err = session.Retry(ctx, msg)
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "Not sent:", err)
				continue
			}
			printer.print([]chat.Delivery{{Message: *msg, Own: true}})
		}
	}
}

// scanLines feeds lines until input ends or ctx is cancelled, then closes lines.
func scanLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func pollInterval() time.Duration {
	d, err := time.ParseDuration(os.Getenv("CHATROOM_POLL_INTERVAL"))
	if err != nil {
		return chat.DefaultPollInterval
	}
	return d
}

func usage() {
	fmt.Println(`chatroom CLI - short-code chat rooms

Usage: chatroom <command> [options]

Commands:
  create <room name> <your name>     Create a room and start chatting
  join <code> <your name>            Join a room and start chatting
  read <code>                        Print a room's messages
  post <code> <your name> <message>  Post one message
  health                             Check server health

Environment:
  CHATROOM_URL            Server URL (default: http://localhost:8080)
  CHATROOM_POLL_INTERVAL  Poll interval, 1s-3s (default: 2s)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
