package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/confirm"
	"github.com/finsight-io/finsight/internal/model"
)

var (
	scrapeAccountID int64
	scrapeForce     bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <profile-url> [profile-url...]",
	Short: "Scrape one or more profile pages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, confirm.NewStdio(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer env.Close()

		account, err := scrapeAccount(cmd, env)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			profile, err := env.Orchestrator.ScrapeProfile(ctx, args[0], account, scrapeForce)
			if err != nil {
				return err
			}
			return printJSON(profile)
		}

		profiles := env.Orchestrator.BatchScrapeProfiles(ctx, args, account, cfg.Scrape.Delay())
		zap.L().Info("bulk scrape complete",
			zap.Int("requested", len(args)),
			zap.Int("scraped", len(profiles)),
		)
		return printJSON(profiles)
	},
}

// scrapeAccount resolves the account driving the scrape: the --account
// flag when given, otherwise any usable stored account.
func scrapeAccount(cmd *cobra.Command, env *appEnv) (*model.Account, error) {
	ctx := cmd.Context()

	if scrapeAccountID != 0 {
		account, err := env.Store.GetAccount(ctx, scrapeAccountID)
		if err != nil {
			return nil, err
		}
		if !account.Usable() {
			return nil, eris.Errorf("account %d is blocked", scrapeAccountID)
		}
		return account, nil
	}

	account, err := env.Store.GetUsableAccount(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "no usable account; add one with `finsight account add`")
	}
	return account, nil
}

func init() {
	scrapeCmd.Flags().Int64Var(&scrapeAccountID, "account", 0, "account id to scrape with (default: any usable account)")
	scrapeCmd.Flags().BoolVar(&scrapeForce, "force", false, "re-scrape even if the cached profile is fresh")
	rootCmd.AddCommand(scrapeCmd)
}
