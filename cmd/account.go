package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/confirm"
	"github.com/finsight-io/finsight/internal/model"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage scraping accounts",
}

var (
	accountUsername string
	accountEmail    string
	accountPassword string
	accountProxy    string
)

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new scraping account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if accountUsername == "" || accountPassword == "" {
			return eris.New("--username and --password are required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		account, err := st.CreateAccount(ctx, model.Account{
			Username:  accountUsername,
			Email:     accountEmail,
			Password:  accountPassword,
			ProxyURL:  accountProxy,
			UserAgent: model.GenerateUserAgent(),
		})
		if err != nil {
			return err
		}

		zap.L().Info("account created", zap.String("account", account.Redacted()))
		return printJSON(account)
	},
}

var (
	accountListLimit  int
	accountListOffset int
)

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		accounts, err := st.ListAccounts(ctx, accountListLimit, accountListOffset)
		if err != nil {
			return err
		}

		return printJSON(accounts)
	},
}

var accountLoginCmd = &cobra.Command{
	Use:   "login <account-id>",
	Short: "Open a browser window for manual login and capture the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		accountID, err := parseID(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, confirm.NewStdio(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer env.Close()

		account, err := env.Store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}

		ok := env.Sessions.Login(ctx, account)
		return printJSON(map[string]any{"account_id": accountID, "logged_in": ok})
	},
}

var accountTokenCmd = &cobra.Command{
	Use:   "token <account-id>",
	Short: "Derive and store a graph API access token for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		accountID, err := parseID(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, confirm.NewStdio(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer env.Close()

		account, err := env.Store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}

		token, err := env.Sessions.DeriveAccessToken(ctx, account)
		if err != nil {
			return err
		}
		if token == "" {
			return eris.Errorf("no access token found for account %d; log in first", accountID)
		}

		return printJSON(map[string]any{"account_id": accountID, "access_token": token})
	},
}

func init() {
	accountAddCmd.Flags().StringVar(&accountUsername, "username", "", "account username")
	accountAddCmd.Flags().StringVar(&accountEmail, "email", "", "account email")
	accountAddCmd.Flags().StringVar(&accountPassword, "password", "", "account password")
	accountAddCmd.Flags().StringVar(&accountProxy, "proxy", "", "proxy URL for this account's sessions")

	accountListCmd.Flags().IntVar(&accountListLimit, "limit", 20, "max accounts to return")
	accountListCmd.Flags().IntVar(&accountListOffset, "offset", 0, "pagination offset")

	accountCmd.AddCommand(accountAddCmd, accountListCmd, accountLoginCmd, accountTokenCmd)
	rootCmd.AddCommand(accountCmd)
}
