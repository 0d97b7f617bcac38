package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shellmux/shellmux/internal/middleware"
)

var tokenDuration time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for a server running with auth enabled",
	Long: `Generates a signed bearer token using SHELLMUX_AUTH_SECRET. Pass it in the
Authorization header, the shellmux_token cookie, or a token query parameter.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := middleware.GenerateToken("cli", tokenDuration)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenDuration, "duration", 24*time.Hour, "token validity window")
	rootCmd.AddCommand(tokenCmd)
}
