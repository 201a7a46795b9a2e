package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/ui/tui"
)

var (
	verbose      bool
	ciMode       bool
	configPath   string
	providerType string
	modelName    string
	roleName     string
	sessionID    string
	interactive  bool
	archiveFlag  bool
	searchLimit  int
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Conversation memory for AI agents",
	Long: `Recall keeps agent conversations durable and bounded. Turns are stored
verbatim, older history is folded into a running digest, and cleared
sessions can be archived into searchable long-term memory.`,
}

var addCmd = &cobra.Command{
	Use:   "add [session] [content]",
	Short: "Append a turn to a session",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		obs := getObserver()
		defer obs.Close()
		s := getStore()
		defer s.Close()

		mgr, cleanup, err := openManager(obs, s, loadProfile(), false)
		if err != nil {
			obs.Log().Fatal().Err(err).Msg("Failed to init session manager")
		}
		defer cleanup()

		turn, outcome, err := mgr.AddTurn(context.Background(), args[0], store.Role(roleName), args[1])
		if err != nil {
			obs.Log().Fatal().Err(err).Msg("Failed to append turn")
		}
		if !outcome.Allowed {
			fmt.Printf("Turn blocked by %s: %s\n", outcome.Rule, outcome.Reason)
			os.Exit(1)
		}
		fmt.Printf("Appended turn #%d to %s\n", turn.Seq, args[0])
	},
}

var contextCmd = &cobra.Command{
	Use:   "context [session]",
	Short: "Print the assembled context (digest plus verbatim tail)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		obs := getObserver()
		defer obs.Close()
		s := getStore()
		defer s.Close()

		mgr, cleanup, err := openManager(obs, s, loadProfile(), true)
		if err != nil {
			obs.Log().Fatal().Err(err).Msg("Failed to init session manager")
		}
		defer cleanup()

		cx, err := mgr.GetContext(context.Background(), args[0])
		if err != nil {
			obs.Log().Fatal().Err(err).Msg("Failed to assemble context")
		}

		if cx.HasDigest {
			fmt.Printf("[digest] %s\n\n", cx.DigestContent)
		}
		for _, turn := range cx.VerbatimTurns {
			fmt.Printf("#%d %s: %s\n", turn.Seq, turn.Role, turn.Content)
		}
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	Run: func(cmd *cobra.Command, args []string) {
		s := getStore()
		defer s.Close()

		sessions, err := s.ListSessions()
		if err != nil {
			fmt.Printf("Failed to list sessions: %v\n", err)
			os.Exit(1)
		}
		if len(sessions) == 0 {
			fmt.Println("(no sessions)")
			return
		}
		for _, sess := range sessions {
			fmt.Printf("%s\t%d turns\t%s\n", sess.ID, sess.TurnCount, sess.CreatedAt.Format("2006-01-02 15:04"))
		}
	},
}

var showCmd = &cobra.Command{
	Use:   "show [session]",
	Short: "Show a session's stored history without triggering summarization",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := getStore()
		defer s.Close()

		turns, err := s.GetTurns(args[0], 0)
		if err != nil {
			fmt.Printf("Failed to read turns: %v\n", err)
			os.Exit(1)
		}
		digest, err := s.GetDigest(args[0])
		if err != nil {
			fmt.Printf("Failed to read digest: %v\n", err)
			os.Exit(1)
		}

		if interactive {
			if err := tui.Run(args[0], digest, turns); err != nil {
				fmt.Printf("Viewer error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		if digest != nil {
			fmt.Printf("[digest through #%d] %s\n\n", digest.CoversThrough, digest.Content)
		}
		for _, turn := range turns {
			fmt.Printf("#%d %s: %s\n", turn.Seq, turn.Role, turn.Content)
		}
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear [session]",
	Short: "Delete a session's turns and digest",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		obs := getObserver()
		defer obs.Close()
		s := getStore()
		defer s.Close()

		mgr, cleanup, err := openManager(obs, s, loadProfile(), archiveFlag)
		if err != nil {
			obs.Log().Fatal().Err(err).Msg("Failed to init session manager")
		}
		defer cleanup()

		if err := mgr.Clear(context.Background(), args[0], archiveFlag); err != nil {
			obs.Log().Fatal().Err(err).Msg("Failed to clear session")
		}
		if archiveFlag {
			fmt.Printf("Cleared %s (archived to long-term memory)\n", args[0])
		} else {
			fmt.Printf("Cleared %s\n", args[0])
		}
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search archived long-term memory",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		obs := getObserver()
		defer obs.Close()
		s := getStore()
		defer s.Close()

		mgr, cleanup, err := openManager(obs, s, loadProfile(), true)
		if err != nil {
			obs.Log().Fatal().Err(err).Msg("Failed to init session manager")
		}
		defer cleanup()

		items, err := mgr.Search(context.Background(), strings.Join(args, " "), searchLimit)
		if err != nil {
			obs.Log().Fatal().Err(err).Msg("Search failed")
		}
		if len(items) == 0 {
			fmt.Println("(no matches)")
			return
		}
		for _, item := range items {
			fmt.Printf("[%s] %s\n", item.SessionID, item.Content)
		}
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send a message through the memory-managed conversation loop",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		obs := getObserver()
		defer obs.Close()
		s := getStore()
		defer s.Close()

		profile := loadProfile()
		mgr, cleanup, err := openManager(obs, s, profile, true)
		if err != nil {
			obs.Log().Fatal().Err(err).Msg("Failed to init session manager")
		}
		defer cleanup()

		p, err := buildProvider(profile, s)
		if err != nil {
			obs.Log().Fatal().Err(err).Msg("Failed to init provider")
		}

		id := sessionID
		if id == "" {
			id = "chat-" + uuid.NewString()
			fmt.Printf("session: %s\n", id)
		}

		runner := NewRunner(obs, s, mgr, p)
		reply, err := runner.Exchange(context.Background(), id, strings.Join(args, " "))
		if err != nil {
			obs.Log().Fatal().Err(err).Msg("Exchange failed")
		}
		fmt.Println(reply)
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&ciMode, "ci", false, "CI mode: JSON log output")
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Profile path (default ~/.recall/recall.yaml)")
	RootCmd.PersistentFlags().StringVarP(&providerType, "provider", "p", "", "Override profile provider (openai, anthropic, ollama, gemini, cli)")
	RootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "Override profile model")

	addCmd.Flags().StringVarP(&roleName, "role", "r", "user", "Turn role (user, assistant, system)")
	showCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Open the TUI viewer")
	clearCmd.Flags().BoolVar(&archiveFlag, "archive", false, "Archive the digest to long-term memory before clearing")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "Maximum results")
	chatCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to continue (default: new session)")

	RootCmd.AddCommand(addCmd)
	RootCmd.AddCommand(contextCmd)
	RootCmd.AddCommand(sessionsCmd)
	RootCmd.AddCommand(showCmd)
	RootCmd.AddCommand(clearCmd)
	RootCmd.AddCommand(searchCmd)
	RootCmd.AddCommand(chatCmd)
}
