package main

import (
	"fmt"
	"os"
	"path/filepath"

	"family-planner-backend/internal/client"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// CLIConfig is read from ~/.config/family-planner/plannerctl.toml. Flags and
// PLANNER_* environment variables take precedence.
type CLIConfig struct {
	URL       string `toml:"url"`
	Token     string `toml:"token,omitempty"`
	UserID    uint   `toml:"user_id,omitempty"`
	FamilyID  uint   `toml:"family_id,omitempty"`
	JWTSecret string `toml:"jwt_secret,omitempty"`
}

var (
	configPath string
	serverURL  string
	token      string
	familyID   uint
	jsonOutput bool

	cliConfig CLIConfig
	api       *client.HTTPClient
)

func defaultConfigPath() string {
	if p := os.Getenv("PLANNER_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "family-planner", "plannerctl.toml")
}

func loadCLIConfig(path string) (CLIConfig, error) {
	cfg := CLIConfig{URL: "http://localhost:8080"}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return CLIConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return cfg, nil
}

func saveCLIConfig(path string, cfg CLIConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var rootCmd = &cobra.Command{
	Use:           "plannerctl <command>",
	Short:         "Drive family planning sessions from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadCLIConfig(configPath)
		if err != nil {
			return err
		}
		cfg.URL = firstNonEmpty(serverURL, os.Getenv("PLANNER_URL"), cfg.URL)
		cfg.Token = firstNonEmpty(token, os.Getenv("PLANNER_TOKEN"), cfg.Token)
		if familyID != 0 {
			cfg.FamilyID = familyID
		}
		cliConfig = cfg
		api = client.NewHTTPClient(cfg.URL, cfg.Token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "coordinator base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token")
	rootCmd.PersistentFlags().UintVar(&familyID, "family", 0, "family ID")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sessions", Title: "Sessions:"},
		&cobra.Group{ID: "planning", Title: "Planning:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(completeCmd)

	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(phaseCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(claimsCmd)
	rootCmd.AddCommand(watchCmd)

	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
