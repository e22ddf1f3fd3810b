// ABOUTME: Interactive CLI client for chatting with an agent over HTTP+SSE.
// ABOUTME: Provides readline-style input, streaming output, and transcript export.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/agentforce-go/auth"
	"github.com/2389/agentforce-go/client"
	"github.com/2389/agentforce-go/config"
	"github.com/2389/agentforce-go/conversation"
	"github.com/2389/agentforce-go/store"
	"github.com/2389/agentforce-go/transport"
	"github.com/2389/agentforce-go/wire"
)

var (
	agentColor = color.New(color.FgGreen)
	infoColor  = color.New(color.Faint)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	server := flag.String("server", "http://localhost:8181", "Agent service URL")
	agentID := flag.String("agent", "", "Agent ID for direct routing")
	orgID := flag.String("org", "", "Organization ID")
	secret := flag.String("secret", "", "JWT secret for minting bearer tokens")
	dbPath := flag.String("db", "", "SQLite transcript path (empty disables archiving)")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := resolveConfig(*configPath, *server, *agentID, *orgID, *secret, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// resolveConfig takes either a config file or the flag set and produces a
// host configuration.
func resolveConfig(path, server, agentID, orgID, secret, dbPath string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := &config.Config{
		Server: config.ServerConfig{BaseURL: server},
		Agent: config.AgentConfig{
			Mode:    "full",
			AgentID: agentID,
			OrgID:   orgID,
		},
		Auth:       config.AuthConfig{JWTSecret: secret},
		Transcript: config.TranscriptConfig{Path: dbPath},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildSource picks the credential source from the auth configuration.
func buildSource(cfg *config.Config) auth.Source {
	if cfg.Auth.JWTSecret != "" {
		subject := cfg.Auth.Subject
		if subject == "" {
			subject = "afchat"
		}
		return auth.NewJWTSource([]byte(cfg.Auth.JWTSecret), subject, 0)
	}
	return &auth.StaticSource{Creds: auth.OAuth{
		Token:  cfg.Auth.Token,
		OrgID:  cfg.Agent.OrgID,
		UserID: cfg.Agent.UserID,
	}}
}

// buildClient assembles the AgentClient for the configured mode.
func buildClient(cfg *config.Config, archive store.Transcript, logger *slog.Logger) (*client.AgentClient, wire.Identity, error) {
	source := buildSource(cfg)

	switch cfg.Agent.Mode {
	case "service":
		c, err := client.New(client.ServiceAgentConfig{
			ESDeveloperName: cfg.Agent.ESDeveloperName,
			OrganizationID:  cfg.Agent.OrganizationID,
			BaseURL:         cfg.Server.BaseURL,
			Source:          source,
			Logger:          logger,
		})
		return c, wire.Identity{}, err
	case "employee":
		c, err := client.New(client.EmployeeAgentConfig{
			OrgID:   cfg.Agent.OrgID,
			UserID:  cfg.Agent.UserID,
			BaseURL: cfg.Server.BaseURL,
			Source:  source,
			Logger:  logger,
		})
		return c, wire.Identity{}, err
	default:
		channelOpts := []transport.HTTPOption{transport.WithLogger(logger)}
		if cfg.Timeouts.Request > 0 {
			channelOpts = append(channelOpts, transport.WithRequestTimeout(cfg.Timeouts.Request))
		}
		if cfg.Timeouts.StreamIdle > 0 {
			channelOpts = append(channelOpts, transport.WithIdleTimeout(cfg.Timeouts.StreamIdle))
		}
		c, err := client.New(client.FullConfig{
			Channel:           transport.NewHTTPChannel(cfg.Server.BaseURL, channelOpts...),
			Source:            source,
			Archive:           archive,
			Navigator:         printNavigator{},
			Logger:            logger,
			CredentialTimeout: cfg.Timeouts.Credential,
		})
		identity := wire.AgentIdentity(cfg.Agent.AgentID, cfg.Agent.OrgID)
		return c, identity, err
	}
}

// printNavigator surfaces navigation requests as console output. A real host
// would route its view layer here.
type printNavigator struct{}

func (printNavigator) Navigate(_ context.Context, target string) error {
	warnColor.Printf("[navigate] %s\n", target)
	return nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var archive store.Transcript
	if cfg.Transcript.Path != "" {
		var err error
		archive, err = store.NewSQLiteStore(cfg.Transcript.Path, logger)
		if err != nil {
			return fmt.Errorf("opening transcript store: %w", err)
		}
		defer archive.Close()
	}

	ac, identity, err := buildClient(cfg, archive, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = ac.CloseAll(closeCtx)
	}()

	conv, err := ac.StartConversation(ctx, identity, client.StartOptions{})
	if err != nil {
		return fmt.Errorf("starting conversation: %w", err)
	}

	fmt.Printf("afchat connected to %s (session %s)\n", cfg.Server.BaseURL, conv.SessionID())
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	events, subID := conv.Subscribe(ctx)
	defer conv.Unsubscribe(subID)
	go consumeEvents(events)

	return inputLoop(ctx, ac, conv, archive)
}

// consumeEvents renders conversation events as they arrive. Streaming rich
// text is printed incrementally by tracking how much of each message has
// already been written.
func consumeEvents(events <-chan conversation.Event) {
	printed := make(map[string]int)

	for ev := range events {
		if ev.Dropped > 0 {
			infoColor.Printf("[%d events dropped]\n", ev.Dropped)
		}

		switch ev.Type {
		case conversation.EventStateChanged:
			infoColor.Printf("[state] %s\n", ev.State)

		case conversation.EventMessageUpdated:
			printDelta(ev.Message, printed)

		case conversation.EventMessageFinalized:
			printDelta(ev.Message, printed)
			delete(printed, ev.Message.ID)
			fmt.Println()
			fmt.Print("> ")

		case conversation.EventNavigation:
			// Rendered by the Navigator; nothing extra here.

		case conversation.EventError:
			errColor.Printf("\n[error] %v\n", ev.Err)
			fmt.Print("> ")
		}
	}
}

// printDelta writes the not-yet-printed tail of the message's components.
func printDelta(msg *conversation.Message, printed map[string]int) {
	if msg == nil {
		return
	}
	for i := printed[msg.ID]; i < len(msg.Components); i++ {
		comp := msg.Components[i]
		switch {
		case len(comp.Choices) > 0:
			fmt.Println()
			if comp.Title != "" {
				agentColor.Printf("%s\n", comp.Title)
			}
			for n, choice := range comp.Choices {
				fmt.Printf("  %d. %s\n", n+1, choice)
			}
		case comp.IsNavigation():
			// The navigation event handles display.
		case comp.Text != "":
			agentColor.Print(comp.Text)
		default:
			infoColor.Printf("[%s]\n", comp.Type)
		}
	}
	printed[msg.ID] = len(msg.Components)
}

func inputLoop(ctx context.Context, ac *client.AgentClient, conv *conversation.Conversation, archive store.Transcript) error {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Print("> ")
	for {
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			fmt.Print("> ")
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if handled, err := handleCommand(ctx, input, conv, archive); handled {
			if err != nil {
				errColor.Printf("[error] %v\n", err)
			}
			fmt.Print("> ")
			continue
		}

		if err := conv.Send(ctx, wire.Utterance{Text: input}); err != nil {
			errColor.Printf("[error] %v\n", err)
			fmt.Print("> ")
		}
	}
}

// handleCommand dispatches slash commands. Returns false when the input is a
// plain message.
func handleCommand(ctx context.Context, input string, conv *conversation.Conversation, archive store.Transcript) (bool, error) {
	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/help":
		printHelp()
		return true, nil

	case "/state":
		fmt.Printf("State: %s  Session: %s\n", conv.State(), conv.SessionID())
		return true, nil

	case "/end":
		if err := conv.End(ctx); err != nil {
			return true, err
		}
		fmt.Println("Session ended. Sending again will resume it.")
		return true, nil

	case "/close":
		if err := conv.Close(ctx); err != nil {
			return true, err
		}
		fmt.Println("Conversation closed.")
		return true, nil

	case "/transcript":
		data, err := conv.DownloadTranscript(ctx)
		if err != nil {
			return true, err
		}
		fmt.Println(string(data))
		return true, nil

	case "/history":
		if archive == nil {
			return true, fmt.Errorf("no transcript store configured (use -db)")
		}
		return true, printHistory(ctx, archive, conv.SessionID())

	case "/export":
		if archive == nil {
			return true, fmt.Errorf("no transcript store configured (use -db)")
		}
		if args == "" {
			args = "transcript.html"
		}
		if err := exportHTML(ctx, archive, conv.SessionID(), args); err != nil {
			return true, err
		}
		fmt.Printf("Exported to %s\n", args)
		return true, nil
	}

	if strings.HasPrefix(cmd, "/") {
		return true, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /state             Show conversation state and session ID")
	fmt.Println("  /end               End the session (resumable)")
	fmt.Println("  /close             Close the conversation permanently")
	fmt.Println("  /transcript        Download the server-side transcript")
	fmt.Println("  /history           Show the local transcript archive")
	fmt.Println("  /export [file]     Export the local archive as HTML")
	fmt.Println("  /help              Show this help")
	fmt.Println("  /quit              Exit")
}

// printHistory lists the archived entries for the current session.
func printHistory(ctx context.Context, archive store.Transcript, sessionID string) error {
	entries, err := archive.ListEntries(ctx, sessionID, 50)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No archived entries for this session")
		return nil
	}
	for _, e := range entries {
		switch e.Kind {
		case store.EntryUtterance:
			fmt.Printf("you:   %s\n", e.Text)
		case store.EntryMessage:
			agentColor.Printf("agent: %s\n", e.Text)
		}
	}
	return nil
}
