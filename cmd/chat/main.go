// Command chat is a terminal client for the relay.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"unicode/utf8"

	"chat-engine/domain"
	"chat-engine/plugin"
	"chat-engine/plugins/attachment"
	"chat-engine/plugins/finder"
	"chat-engine/plugins/language"
	"chat-engine/plugins/moderation"
	"chat-engine/runtime"
	"chat-engine/storage"
	"chat-engine/transport/ws"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		identity string
		relayURL string
		stateDir string
		initial  []string
	)
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Chat with everyone connected to the relay",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			overrideString(cmd, "identity", &config.Identity, identity)
			overrideString(cmd, "relay", &config.RelayURL, relayURL)
			overrideString(cmd, "state-dir", &config.StateDir, stateDir)
			if config.Identity == "" {
				return fmt.Errorf("an identity is required: --identity or CHAT_IDENTITY")
			}
			state, err := parseAssignments(initial)
			if err != nil {
				return err
			}
			return run(cmd.Context(), config, state, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	root.Flags().StringVarP(&identity, "identity", "i", "", "who you are on the relay")
	root.Flags().StringVar(&relayURL, "relay", "", "relay WebSocket endpoint")
	root.Flags().StringVar(&stateDir, "state-dir", "", "directory keeping your state between runs")
	root.Flags().StringSliceVar(&initial, "set", nil, "initial state as key=value, repeatable")

	root.AddCommand(newStateCommand())
	return root
}

func overrideString(cmd *cobra.Command, flag string, target *string, value string) {
	if cmd.Flags().Changed(flag) {
		*target = value
	}
}

// newStateCommand prints the state stored for an identity.
func newStateCommand() *cobra.Command {
	var stateDir string
	cmd := &cobra.Command{
		Use:   "state identity",
		Short: "Show the state kept between runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.Open(stateDir)
			if err != nil {
				return err
			}
			defer db.Close()
			state, err := storage.NewStateRepository(db, slog.Default()).Load(args[0])
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Key", "Value"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetBorder(false)
			for _, key := range state.Keys() {
				table.Append([]string{key, fmt.Sprint(state[key])})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "directory keeping the state")
	_ = cmd.MarkFlagRequired("state-dir")
	return cmd
}

// run wires the plugins, the relay transport and the engine, then reads
// console lines until /quit, end of input or a signal.
func run(parent context.Context, config Config, initial domain.State, in io.Reader, out io.Writer) error {
	log := logs.GetLoggerFromString(config.LogLevel)
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	descriptors, closePlugins, err := plugins(log, config)
	if err != nil {
		return err
	}
	defer closePlugins()

	options := []runtime.Option{
		runtime.WithPlugins(descriptors...),
		runtime.WithGlobalChannel(config.GlobalChannel),
	}
	if config.StateDir != "" {
		db, err := storage.Open(config.StateDir)
		if err != nil {
			return err
		}
		defer db.Close()
		options = append(options, runtime.WithStateStore(storage.NewStateRepository(db, log)))
	}

	engine, err := runtime.NewEngine(log, ws.New(log, config.RelayURL, config.Identity), options...)
	if err != nil {
		return err
	}
	return session(ctx, engine, config, initial, in, out)
}

func session(ctx context.Context, engine *runtime.Engine, config Config, initial domain.State, in io.Reader, out io.Writer) error {
	if _, err := engine.Identify(config.Identity, initial); err != nil {
		return err
	}
	c := newConsole(engine, out, config.Colours)
	c.watchGlobal(engine.Global())

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			fmt.Fprintf(out, "close: %v\n", err)
		}
	}()
	if err := engine.Start(ctx); err != nil {
		return err
	}
	c.printf(color.New(color.FgGreen), "connected as %s, /help for commands", config.Identity)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	errStyle := color.New(color.FgRed)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := c.Execute(ctx, line)
			if err != nil {
				c.printf(errStyle, "error: %v", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// plugins builds the installed plugin set. The returned func releases them.
func plugins(log *slog.Logger, config Config) ([]plugin.Descriptor, func(), error) {
	charReplacement, _ := utf8.DecodeRuneInString(config.CharReplacement)
	moderationPlugin, err := moderation.New(log, moderation.Config{CharReplacement: charReplacement})
	if err != nil {
		return nil, nil, err
	}
	finderPlugin, index, err := finder.New(log)
	if err != nil {
		return nil, nil, err
	}
	descriptors := []plugin.Descriptor{
		moderationPlugin,
		attachment.New(log, attachment.Config{MaxSize: config.MaxAttachment}),
		language.New(log, language.Config{}),
		finderPlugin,
	}
	return descriptors, func() { _ = index.Close() }, nil
}
