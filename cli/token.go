package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a push token for a user",
	Long: `Prints a push token for the given user, signed with the session keys. The
token opens the push channel (/ws?token=...) and authorizes REST calls as
"Authorization: Bearer <token>" until it expires after push.token_ttl.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "user id (required)")
	_ = tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	userID, err := uuid.Parse(tokenUser)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}

	db, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.GetUserByID(cmd.Context(), userID); err != nil {
		return err
	}

	token, expires, err := newTokenIssuer(cfg).Issue(userID)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
	return nil
}
