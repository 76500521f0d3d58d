package main

import (
	"fmt"
	"os"
	"strconv"

	"family-planner-backend/internal/services"

	"github.com/spf13/cobra"
)

// tokenCmd mints a token locally from the server's JWT secret. Meant for
// development stacks where no identity provider issues tokens.
var tokenCmd = &cobra.Command{
	Use:     "token <user-id>",
	Short:   "Mint a development token and store it in the config file",
	GroupID: "system",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || uid == 0 {
			return fmt.Errorf("invalid user ID %q", args[0])
		}
		secret := firstNonEmpty(os.Getenv("JWT_SECRET"), cliConfig.JWTSecret)
		if secret == "" {
			return fmt.Errorf("no JWT secret: set JWT_SECRET or jwt_secret in the config file")
		}

		tok, err := services.NewAuthService(secret).GenerateToken(uint(uid))
		if err != nil {
			return err
		}

		if save, _ := cmd.Flags().GetBool("save"); save {
			cfg := cliConfig
			cfg.Token = tok
			cfg.UserID = uint(uid)
			if err := saveCLIConfig(configPath, cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Token for user %d saved to %s\n", uid, configPath)
			return nil
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Bool("save", false, "write the token to the config file instead of printing it")
}
