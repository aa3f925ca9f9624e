package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pairchat/internal/auth"
	"pairchat/internal/client"
	"pairchat/internal/domain"
	"pairchat/internal/store"
)

var (
	serverURL string
	userID    string
	peerID    string
	token     string
	secret    string
	issuer    string
	audience  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pairchat-client",
		Short: "Terminal client for the pairchat relay",
		Run:   runClient,
	}

	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "ws://localhost:8080/ws", "relay websocket URL")
	rootCmd.Flags().StringVarP(&userID, "user", "u", "", "your user id (required)")
	rootCmd.Flags().StringVarP(&peerID, "to", "t", "", "user id to chat with")
	rootCmd.Flags().StringVar(&token, "token", "", "access token; minted locally from --secret when empty")
	rootCmd.Flags().StringVar(&secret, "secret", "secret", "signing secret for local token minting")
	rootCmd.Flags().StringVar(&issuer, "issuer", "pairchat", "expected token issuer")
	rootCmd.Flags().StringVar(&audience, "audience", "pairchat-clients", "expected token audience")
	rootCmd.MarkFlagRequired("user")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) {
	if token == "" {
		minted, err := auth.GenerateAccess(secret, userID, issuer, audience, 12*time.Hour)
		if err != nil {
			log.Fatalf("failed to mint token: %v", err)
		}
		token = minted
	}

	st := store.New()
	opts := client.Options{
		OnReceive: func(msg domain.Message) {
			if msg.Sender == userID {
				return // echo of my own send, already shown locally
			}
			printLine(fmt.Sprintf("[%s] %s: %s", stamp(msg.CreatedAt), msg.Sender, msg.Content))
		},
		OnTyping: func(senderID string, active bool) {
			if active {
				printLine(fmt.Sprintf("... %s is typing", senderID))
			}
		},
		OnSeen: func(readerID, senderID string) {
			if readerID != userID {
				printLine(fmt.Sprintf("*** %s has seen your messages", readerID))
			}
		},
		OnError: func(code, reason, clientID string) {
			printLine(fmt.Sprintf("[SERVER ERROR] %s: %s", code, reason))
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, serverURL, token, userID, st, opts)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", serverURL, err)
	}
	defer c.Close()

	go func() {
		<-c.Done()
		fmt.Println("\rconnection closed")
		os.Exit(0)
	}()

	fmt.Printf("connected to %s as %s\n", serverURL, userID)
	handleStdin(c, st)
}

// handleStdin reads terminal input until EOF. Plain lines go to the current
// peer; lines starting with "/" are commands.
func handleStdin(c *client.Client, st *store.Store) {
	printHelp()
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("> ")

	for {
		input, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			fmt.Print("> ")
			continue
		}

		switch {
		case strings.HasPrefix(input, "/to "):
			peerID = strings.TrimSpace(strings.TrimPrefix(input, "/to "))
			fmt.Printf("now chatting with %s\n", peerID)

		case input == "/seen":
			if requirePeer() {
				c.MarkSeen(peerID)
			}

		case input == "/typing":
			if requirePeer() {
				c.Typing(peerID)
			}

		case input == "/history":
			if requirePeer() {
				for msg := range st.Conversation(peerID, c.SelfID()) {
					marker := " "
					if msg.Sender == c.SelfID() && msg.Seen {
						marker = "*"
					}
					fmt.Printf("[%s]%s %s: %s\n", stamp(msg.CreatedAt), marker, msg.Sender, msg.Content)
				}
			}

		case input == "/help":
			printHelp()

		case input == "/quit":
			return

		case strings.HasPrefix(input, "/"):
			fmt.Println("[ERROR] unknown command, try /help")

		default:
			if requirePeer() {
				c.StopTyping(peerID)
				msg := c.SendMessage(peerID, input)
				fmt.Printf("[%s] me -> %s: %s\n", stamp(time.Now()), peerID, msg.Content)
			}
		}
		fmt.Print("> ")
	}
}

func requirePeer() bool {
	if peerID == "" {
		fmt.Println("[ERROR] no peer selected, use /to <user>")
		return false
	}
	return true
}

func printHelp() {
	fmt.Println("commands: /to <user>  /seen  /typing  /history  /help  /quit")
	fmt.Println("anything else is sent to the current peer")
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Local().Format("15:04:05")
}

// printLine redraws the prompt after an asynchronous event so incoming
// messages do not clobber the line being typed.
func printLine(s string) {
	fmt.Printf("\r%s\n> ", s)
}
