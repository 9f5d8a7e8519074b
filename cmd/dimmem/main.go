package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lexlapax/dimmem/pkg/config"
	"github.com/lexlapax/dimmem/pkg/dimmem"
	"github.com/lexlapax/dimmem/pkg/entity"
	"github.com/lexlapax/dimmem/pkg/log"
)

var (
	configPath     string
	userID         string
	conversationID string
)

// rootCmd is the top-level command.
var rootCmd = &cobra.Command{
	Use:   "dimmem",
	Short: "Multi-dimensional memory for AI assistants",
	Long: "dimmem stores conversations, concepts, procedures, resources and knowledge " +
		"in separate memory dimensions and assembles them into prompt context.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "default-user", "User the memories belong to")
	rootCmd.PersistentFlags().StringVar(&conversationID, "conversation", "", "Conversation id stored on recorded events")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	log.Setup(log.Config{
		Level:  log.Level(cfg.Logging.Level),
		Format: log.Format(cfg.Logging.Format),
	})
	return cfg, nil
}

// openClient loads the configuration and opens a client for it.
func openClient(ctx context.Context) (*dimmem.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := dimmem.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

// entityContext scopes ctx to the --user and --conversation flags.
func entityContext(ctx context.Context) context.Context {
	return entity.ContextWithEntity(ctx, entity.NewContext(entity.UserID(userID), conversationID))
}

// runInput returns a cobra RunE that sends the joined args as one request.
func runInput(inputType dimmem.InputType) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, _, err := openClient(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		response, err := client.Process(entityContext(cmd.Context()), inputType, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), response)
		return nil
	}
}
