// Command credits is the operator tool for inspecting and topping up credit
// balances, and for minting development tokens.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/suPer8Hu/gengenie/internal/auth"
	"github.com/suPer8Hu/gengenie/internal/config"
	"github.com/suPer8Hu/gengenie/internal/credits"
	"github.com/suPer8Hu/gengenie/internal/db"
	"github.com/suPer8Hu/gengenie/internal/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.AppEnv).With().Str("component", "credits-cli").Logger()

	userFlag := &cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "owner id", Required: true}

	app := &cli.App{
		Name:  "credits",
		Usage: "inspect and grant generation credits",
		Commands: []*cli.Command{
			{
				Name:  "balance",
				Usage: "print a user's balance",
				Flags: []cli.Flag{userFlag},
				Action: func(c *cli.Context) error {
					ledger, err := openLedger(cfg)
					if err != nil {
						return err
					}
					b, err := ledger.Balance(c.Context, c.String("user"))
					if err != nil {
						return err
					}
					return printJSON(b)
				},
			},
			{
				Name:  "grant",
				Usage: "add credits to a user's balance",
				Flags: []cli.Flag{
					userFlag,
					&cli.StringFlag{Name: "kind", Value: string(credits.KindImage), Usage: "image or video"},
					&cli.IntFlag{Name: "amount", Required: true},
					&cli.StringFlag{Name: "note", Usage: "recorded on the ledger entry"},
				},
				Action: func(c *cli.Context) error {
					kind, err := credits.ParseKind(c.String("kind"))
					if err != nil {
						return cli.Exit(err.Error(), 2)
					}
					amount := c.Int("amount")
					if amount <= 0 {
						return cli.Exit("amount must be positive", 2)
					}
					ledger, err := openLedger(cfg)
					if err != nil {
						return err
					}
					user := c.String("user")
					if err := ledger.Grant(c.Context, user, kind, amount, c.String("note")); err != nil {
						return err
					}
					logger.Info().Str("user_id", user).Str("kind", string(kind)).Int("amount", amount).Msg("credits granted")
					b, err := ledger.Balance(c.Context, user)
					if err != nil {
						return err
					}
					return printJSON(b)
				},
			},
			{
				Name:  "entries",
				Usage: "print a user's ledger entries, newest first",
				Flags: []cli.Flag{
					userFlag,
					&cli.IntFlag{Name: "limit", Value: 50},
				},
				Action: func(c *cli.Context) error {
					ledger, err := openLedger(cfg)
					if err != nil {
						return err
					}
					entries, err := ledger.Entries(c.Context, c.String("user"), c.Int("limit"))
					if err != nil {
						return err
					}
					return printJSON(entries)
				},
			},
			{
				Name:  "token",
				Usage: "mint a bearer token for local testing",
				Flags: []cli.Flag{
					userFlag,
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: func(c *cli.Context) error {
					token, err := auth.SignJWT(c.String("user"), cfg.JWTSecret, c.Duration("ttl"))
					if err != nil {
						return err
					}
					fmt.Println(token)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal().Err(err).Msg("credits")
	}
}

func openLedger(cfg config.Config) (*credits.Ledger, error) {
	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	return credits.NewLedger(gdb), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

