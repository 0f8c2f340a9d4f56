package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"upgradereg/internal/address"
	"upgradereg/internal/client"
	"upgradereg/internal/contract"
)

type globalOptions struct {
	server  string
	caller  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "registryctl",
		Short:         "Talk to a registry node: accounts, contracts and upgrades",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("REGISTRY_URL", "http://127.0.0.1:8080"), "node base URL")
	root.PersistentFlags().StringVar(&opts.caller, "caller", os.Getenv("REGISTRY_CALLER"), "account address to act as")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-command timeout")

	var deployAmount, callAmount uint64
	var upgradeCode string

	root.AddCommand(
		&cobra.Command{
			Use:   "accounts",
			Short: "List the dev accounts and their balances",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withClient(cmd, opts, func(ctx context.Context, c *client.Client) (any, error) {
					return c.Accounts(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "codes",
			Short: "List deployable code names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withClient(cmd, opts, func(ctx context.Context, c *client.Client) (any, error) {
					return c.Codes(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "balance <address>",
			Short: "Show the balance of an account or contract (ak_ or ct_ form)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := address.Parse(args[0])
				if err != nil {
					return err
				}
				return withClient(cmd, opts, func(ctx context.Context, c *client.Client) (any, error) {
					bal, err := c.Balance(ctx, a)
					return map[string]any{"address": a, "balance": bal}, err
				})
			},
		},
		&cobra.Command{
			Use:   "spend <to> <amount>",
			Short: "Transfer tokens from --caller to an address",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				to, err := address.Parse(args[0])
				if err != nil {
					return err
				}
				amount, err := strconv.ParseUint(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("amount: %w", err)
				}
				return withClient(cmd, opts, func(ctx context.Context, c *client.Client) (any, error) {
					return nil, c.Spend(ctx, to, amount)
				})
			},
		},
		withAmount(&cobra.Command{
			Use:   "deploy <code> [args...]",
			Short: "Deploy a contract; args are JSON values or bare strings",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, opts, func(ctx context.Context, c *client.Client) (any, error) {
					addr, err := c.Deploy(ctx, args[0], deployAmount, parseArgs(args[1:])...)
					return map[string]any{"address": addr}, err
				})
			},
		}, &deployAmount),
		withAmount(&cobra.Command{
			Use:   "call <address> <method> [args...]",
			Short: "Invoke an entry point and print its result",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				target, err := address.Parse(args[0])
				if err != nil {
					return err
				}
				return withClient(cmd, opts, func(ctx context.Context, c *client.Client) (any, error) {
					return c.Call(ctx, target, args[1], callAmount, parseArgs(args[2:])...)
				})
			},
		}, &callAmount),
		&cobra.Command{
			Use:   "contract <address>",
			Short: "Show a contract's code, entry points and balance",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := address.Parse(args[0])
				if err != nil {
					return err
				}
				return withClient(cmd, opts, func(ctx context.Context, c *client.Client) (any, error) {
					return c.Contract(ctx, a)
				})
			},
		},
		&cobra.Command{
			Use:   "snapshot",
			Short: "Save the ledger state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withClient(cmd, opts, func(ctx context.Context, c *client.Client) (any, error) {
					depth, err := c.Snapshot(ctx)
					return map[string]any{"depth": depth}, err
				})
			},
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Restore the most recent snapshot",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withClient(cmd, opts, func(ctx context.Context, c *client.Client) (any, error) {
					return nil, c.Rollback(ctx)
				})
			},
		},
	)

	upgrade := &cobra.Command{
		Use:   "upgrade <factory>",
		Short: "Deploy a successor bound to the factory and switch the factory to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			factory, err := address.Parse(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) (any, error) {
				next, err := c.Upgrade(ctx, factory, upgradeCode)
				if err != nil {
					return nil, err
				}
				st, err := c.State(ctx, next)
				return map[string]any{"current": next, "state": st}, err
			})
		},
	}
	upgrade.Flags().StringVar(&upgradeCode, "code", contract.CodeV2, "code of the successor")
	root.AddCommand(upgrade)

	return root
}

func withAmount(cmd *cobra.Command, dst *uint64) *cobra.Command {
	cmd.Flags().Uint64Var(dst, "amount", 0, "tokens to send along")
	return cmd
}

// withClient runs fn against the node and prints its result as JSON.
func withClient(cmd *cobra.Command, opts *globalOptions, fn func(context.Context, *client.Client) (any, error)) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	c := client.NewClient(opts.server, nil)
	if opts.caller != "" {
		caller, err := address.Parse(opts.caller)
		if err != nil {
			return fmt.Errorf("--caller: %w", err)
		}
		c = c.As(caller)
	}

	out, err := fn(ctx, c)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%s (%s)", apiErr.Message, apiErr.Kind)
		}
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	if v == nil {
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseArgs keeps valid JSON as is and quotes everything else, so
// `deploy UpgradableContractV2 0 ct_...` needs no shell quoting.
func parseArgs(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, s := range raw {
		if json.Valid([]byte(s)) {
			out = append(out, json.RawMessage(s))
			continue
		}
		out = append(out, s)
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
