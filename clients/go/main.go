// chatctl - Command line client for the Beatmart chat gateway
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beatmart/chatsync/clients/go/chatsync"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CHATSYNC_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := chatsync.NewClient(baseURL)
	client.Token = os.Getenv("CHATSYNC_TOKEN")
	ctx := context.Background()
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "login":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatctl login <nickname>")
			os.Exit(1)
		}
		resp, err := client.Login(ctx, os.Args[2])
		exitOnError(err)
		fmt.Printf("Logged in as %s\nexport CHATSYNC_TOKEN=%s\n", resp.Profile.Nickname, resp.Token)

	case "conversations":
		views, err := client.ListConversations(ctx)
		exitOnError(err)
		for _, v := range views {
			marker := " "
			if v.Unread > 0 {
				marker = "*"
			}
			fmt.Printf("%s %s  %-20s %s\n", marker, v.ID, v.Counterpart.Nickname, v.LastMessage)
		}

	case "chat":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatctl chat <user_id>")
			os.Exit(1)
		}
		conv, created, err := client.CreateConversation(ctx, os.Args[2])
		exitOnError(err)
		if created {
			fmt.Printf("Created: %s\n", conv.ID)
		} else {
			fmt.Printf("Existing: %s\n", conv.ID)
		}

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatctl read <conversation_id>")
			os.Exit(1)
		}
		msgs, hasMore, err := client.ListMessages(ctx, os.Args[2], 50, "")
		exitOnError(err)
		if hasMore {
			fmt.Println("  (older messages omitted)")
		}
		for _, msg := range msgs {
			ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
			from := msg.From
			if len(from) > 8 {
				from = from[:8]
			}
			fmt.Printf("[%s] %s: %s\n", ts, from, msg.Body)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chatctl send <conversation_id> <message>")
			os.Exit(1)
		}
		msg, err := client.PostMessage(ctx, os.Args[2], chatsync.PostMessageRequest{Body: os.Args[3]})
		exitOnError(err)
		fmt.Printf("Sent: %s\n", msg.ID)

	case "search":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatctl search <query>")
			os.Exit(1)
		}
		users, err := client.SearchUsers(ctx, os.Args[2])
		exitOnError(err)
		for _, u := range users {
			badge := ""
			if u.IsProducer {
				badge = " [producer]"
			}
			fmt.Printf("  %s  %s%s\n", u.ID, u.Nickname, badge)
		}

	case "watch":
		stream := chatsync.NewStream(baseURL, client.Token)
		ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		stop, err := stream.Subscribe(ctx, func(event *chatsync.Event) {
			if event.Message == nil {
				return
			}
			ts := time.UnixMilli(event.Message.Timestamp).Format("15:04:05")
			fmt.Printf("[%s] %s %s: %s\n", ts, event.ConversationID, event.Message.From, event.Message.Body)
		})
		exitOnError(err)
		defer stop()
		<-ctx.Done()

	case "sign":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatctl sign <filename> [content_type]")
			os.Exit(1)
		}
		contentType := "application/octet-stream"
		if len(os.Args) > 3 {
			contentType = os.Args[3]
		}
		resp, err := client.SignUpload(ctx, os.Args[2], contentType)
		exitOnError(err)
		printJSON(resp)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`chatctl - Beatmart chat gateway client

Usage: chatctl <command> [options]

Commands:
  login <nickname>         Sign in and print the session token
  conversations            List conversations, unread marked with *
  chat <user_id>           Get or create a conversation with a user
  read <conversation_id>   Read recent messages
  send <conv_id> <text>    Send a message
  search <query>           Search users by nickname
  watch                    Stream realtime message events
  sign <filename> [type]   Sign an attachment upload
  health                   Check server health

Environment:
  CHATSYNC_URL     Server URL (default: http://localhost:8080)
  CHATSYNC_TOKEN   Session token from login`)
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
