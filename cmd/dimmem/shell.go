package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/lexlapax/dimmem/pkg/config"
	"github.com/lexlapax/dimmem/pkg/dimmem"
	"github.com/lexlapax/dimmem/pkg/entity"
	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mmu"
)

// Shell commands
const (
	cmdHelp         = "!help"
	cmdQuit         = "!quit"
	cmdUser         = "!user"
	cmdConversation = "!conversation"
	cmdRecord       = "!record"
	cmdSearch       = "!search"
	cmdContext      = "!context"
	cmdLearn        = "!learn"
	cmdCompress     = "!compress"
	cmdStats        = "!stats"
	cmdConfig       = "!config"
)

var shellCommands = []string{
	cmdHelp, cmdQuit, cmdUser, cmdConversation, cmdRecord, cmdSearch,
	cmdContext, cmdLearn, cmdCompress, cmdStats, cmdConfig,
}

const helpText = `
dimmem shell - Command Reference:
-----------------------------------------
!help                 - Show this help message
!user <id>            - Set the current user ID
!conversation <id>    - Set the current conversation ID
!record <text>        - Record a conversation turn
!search <query>       - Search every memory dimension
!context <query>      - Render the prompt context for a query
!learn <topic: text>  - Store a knowledge entry
!compress [cutoff]    - Archive events older than an age, time or date
!stats                - Show record counts per dimension
!config               - Show current configuration
!quit                 - Exit the shell

Notes:
- Regular text input is recorded as a conversation turn
- Tab completion is available for commands
- Use up/down arrows for command history`

// defaultHistoryFile is the file where command history is stored
const defaultHistoryFile = ".dimmem_history"

func newShellCmd() *cobra.Command {
	var (
		stdinMode   bool
		historyFile string
	)
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive memory shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			sh := &shell{
				out:          cmd.OutOrStdout(),
				client:       client,
				orchestrator: client.Orchestrator(),
				cfg:          cfg,
				user:         userID,
				conversation: conversationID,
			}
			if stdinMode {
				return sh.runScript(cmd.Context(), cmd.InOrStdin())
			}
			return sh.runInteractive(cmd.Context(), historyFile)
		},
	}
	cmd.Flags().BoolVarP(&stdinMode, "stdin", "s", false, "Read commands from stdin and exit when complete")
	cmd.Flags().StringVar(&historyFile, "history", defaultHistoryFile, "Command history file")
	return cmd
}

// shell is the state of one interactive session.
type shell struct {
	out          io.Writer
	client       dimmem.Processor
	orchestrator *mmu.Orchestrator
	cfg          *config.Config
	user         string
	conversation string
}

func (s *shell) prompt() string {
	return fmt.Sprintf("dimmem::%s> ", s.user)
}

func (s *shell) banner() {
	fmt.Fprintln(s.out, "\n=== dimmem shell ===")
	fmt.Fprintln(s.out, "Record Store:", s.cfg.Store.Type)
	fmt.Fprintf(s.out, "Current User: %s\n", s.user)
	fmt.Fprintln(s.out, "Type !help for available commands.")
}

// runScript processes one command per line of r. Blank lines and comments are skipped.
func (s *shell) runScript(ctx context.Context, r io.Reader) error {
	s.banner()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" || strings.HasPrefix(input, "#") || strings.HasPrefix(input, "//") {
			continue
		}
		fmt.Fprint(s.out, s.prompt(), input, "\n")
		if !s.processCommand(ctx, input, nil) {
			return nil
		}
	}
	fmt.Fprintln(s.out, "Goodbye!")
	return scanner.Err()
}

func (s *shell) runInteractive(ctx context.Context, historyFile string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(false)
	line.SetCompleter(complete)

	if historyFile != "" {
		if f, err := os.Open(filepath.Clean(historyFile)); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(filepath.Clean(historyFile)); err == nil {
				_, _ = line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	s.banner()
	for {
		input, err := line.Prompt(s.prompt())
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(s.out, "\nGoodbye!")
				return nil
			}
			fmt.Fprintf(s.out, "Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !s.processCommand(ctx, input, line) {
			return nil
		}
	}
}

// complete offers the shell commands that extend the typed prefix.
func complete(line string) (c []string) {
	for _, cmd := range shellCommands {
		if strings.HasPrefix(cmd, line) {
			c = append(c, cmd)
		}
	}
	return c
}

// processCommand handles a single command and returns false if the shell should exit.
// line is nil outside interactive mode.
func (s *shell) processCommand(ctx context.Context, input string, line *liner.State) bool {
	if !strings.HasPrefix(input, "!") {
		s.send(ctx, dimmem.InputTypeRecord, input)
		return true
	}

	parts := strings.SplitN(input, " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case cmdHelp:
		fmt.Fprintln(s.out, helpText)

	case cmdQuit:
		fmt.Fprintln(s.out, "Goodbye!")
		return false

	case cmdUser:
		if arg = s.argOrPrompt(arg, line, "Enter new user ID: "); arg != "" {
			s.user = arg
		}
		fmt.Fprintf(s.out, "Current user: %s\n", s.user)

	case cmdConversation:
		if arg = s.argOrPrompt(arg, line, "Enter new conversation ID: "); arg != "" {
			s.conversation = arg
		}
		fmt.Fprintf(s.out, "Current conversation: %s\n", s.conversation)

	case cmdRecord, cmdSearch, cmdLearn:
		inputType := map[string]dimmem.InputType{
			cmdRecord: dimmem.InputTypeRecord,
			cmdSearch: dimmem.InputTypeRetrieve,
			cmdLearn:  dimmem.InputTypeLearn,
		}[cmd]
		if arg = s.argOrPrompt(arg, line, "Enter "+string(inputType)+" text: "); arg == "" {
			fmt.Fprintf(s.out, "%s requires text\n", cmd)
			return true
		}
		s.send(ctx, inputType, arg)

	case cmdContext:
		s.send(ctx, dimmem.InputTypeContext, arg)

	case cmdCompress:
		s.send(ctx, dimmem.InputTypeCompress, arg)

	case cmdStats:
		s.stats()

	case cmdConfig:
		s.showConfig()

	default:
		fmt.Fprintf(s.out, "Unknown command: %s\nType !help for available commands.\n", cmd)
	}
	return true
}

// argOrPrompt returns arg, or asks for it when interactive.
func (s *shell) argOrPrompt(arg string, line *liner.State, prompt string) string {
	if arg != "" || line == nil {
		return arg
	}
	answer, err := line.Prompt(prompt)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(answer)
}

func (s *shell) send(ctx context.Context, inputType dimmem.InputType, input string) {
	ctx = entity.ContextWithEntity(ctx, entity.NewContext(entity.UserID(s.user), s.conversation))
	response, err := s.client.Process(ctx, inputType, input)
	if err != nil {
		fmt.Fprintf(s.out, "Error (%s): %v\n", inputType, err)
		return
	}
	fmt.Fprintln(s.out, response)
}

func (s *shell) stats() {
	if s.orchestrator == nil {
		fmt.Fprintln(s.out, "No statistics available")
		return
	}
	stats := s.orchestrator.Stats()
	dims := make([]events.Dimension, 0, len(stats))
	for d := range stats {
		dims = append(dims, d)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })

	for _, d := range dims {
		fmt.Fprintf(s.out, "%-12s %d\n", d, stats[d])
	}
	fmt.Fprintf(s.out, "%-12s %d\n", "total", s.orchestrator.Total())
	if s.orchestrator.UnderPressure() {
		fmt.Fprintln(s.out, "Memory pressure threshold exceeded")
	}
}

func (s *shell) showConfig() {
	cfg := s.cfg
	fmt.Fprintln(s.out, "\nCurrent Configuration:")
	fmt.Fprintln(s.out, "======================")
	fmt.Fprintf(s.out, "Record Store: %s\n", cfg.Store.Type)
	switch cfg.Store.Type {
	case "bolt":
		fmt.Fprintf(s.out, "BoltDB Path: %s\n", cfg.Store.Bolt.Path)
	case "sqlite":
		fmt.Fprintf(s.out, "SQLite Path: %s\n", cfg.Store.SQLite.Path)
	}
	fmt.Fprintf(s.out, "Embedding Provider: %s (%d dims, cache %d)\n",
		cfg.Embedding.Provider, cfg.Embedding.Dimensions, cfg.Embedding.CacheSize)
	fmt.Fprintf(s.out, "Reasoning Provider: %s\n", cfg.Reasoning.Provider)
	fmt.Fprintf(s.out, "Extraction Provider: %s\n", cfg.Extraction.Provider)
	fmt.Fprintf(s.out, "Concept Extraction: %v\n", cfg.Memory.EnableConceptExtraction)
	fmt.Fprintf(s.out, "Vector Search: %v\n", cfg.Memory.EnableVectorSearch)
	fmt.Fprintf(s.out, "Context Window: %d\n", cfg.Memory.ContextWindow)
	if cfg.Memory.AutoCompressAfter > 0 {
		fmt.Fprintf(s.out, "Auto Compression: events older than %s every %d operations\n",
			cfg.Memory.AutoCompressAfter, cfg.Memory.AutoCompressEvery)
	}
	fmt.Fprintf(s.out, "\nLog Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(s.out, "User: %s\n", s.user)
	fmt.Fprintf(s.out, "Conversation: %s\n", s.conversation)
}
