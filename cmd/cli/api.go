package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func accountCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Account operations",
	}

	var (
		name, currency, accType, owner string
		allowOverdraft                 bool
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Open an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]any{
				"name":            name,
				"currency":        currency,
				"type":            accType,
				"allow_overdraft": allowOverdraft,
			}
			if owner != "" {
				body["owner_id"] = owner
			}
			resp, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/accounts", body, nil)
			if err != nil {
				return err
			}
			return expect(cmd, resp, http.StatusCreated)
		},
	}
	create.Flags().StringVar(&name, "name", "", "Account name")
	create.Flags().StringVar(&currency, "currency", "", "ISO 4217 currency code")
	create.Flags().StringVar(&accType, "type", "CHECKING", "CHECKING, CARD or FUNDING")
	create.Flags().BoolVar(&allowOverdraft, "allow-overdraft", false, "Permit a negative balance")
	create.Flags().StringVar(&owner, "owner", "", "Subject allowed to debit the account (defaults to the caller)")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("currency")

	var at string
	balance := &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show an account's balance, optionally at an RFC3339 instant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/accounts/" + url.PathEscape(args[0]) + "/balance"
			if at != "" {
				path += "?at=" + url.QueryEscape(at)
			}
			resp, err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, nil)
			if err != nil {
				return err
			}
			return expect(cmd, resp, http.StatusOK)
		},
	}
	balance.Flags().StringVar(&at, "at", "", "RFC3339 timestamp")

	cmd.AddCommand(
		create,
		getCmd(opts, "get <account-id>", "Show an account", "/api/v1/accounts/"),
		balance,
		statusCmd(opts, "freeze"),
		statusCmd(opts, "unfreeze"),
		statusCmd(opts, "close"),
	)
	return cmd
}

func statusCmd(opts *options, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <account-id>",
		Short: fmt.Sprintf("%s an account", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/accounts/" + url.PathEscape(args[0]) + "/" + action
			resp, err := opts.client().do(cmd.Context(), http.MethodPost, path, nil, nil)
			if err != nil {
				return err
			}
			return expect(cmd, resp, http.StatusOK)
		},
	}
}

func getCmd(opts *options, use, short, prefix string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().do(cmd.Context(), http.MethodGet, prefix+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			return expect(cmd, resp, http.StatusOK)
		},
	}
}

func transferCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer operations",
	}

	var key, from, to, amount, currency, reference string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a transfer under an idempotency key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/transfers", map[string]string{
				"source_account_id": from,
				"dest_account_id":   to,
				"amount":            amount,
				"currency":          currency,
				"reference":         reference,
			}, map[string]string{"Idempotency-Key": key})
			if err != nil {
				return err
			}
			if resp.status == http.StatusAccepted {
				fmt.Fprintln(cmd.ErrOrStderr(), "commit outcome unconfirmed; query the transfer before retrying")
			}
			return expect(cmd, resp, http.StatusCreated, http.StatusOK, http.StatusAccepted)
		},
	}
	submit.Flags().StringVar(&key, "key", "", "Idempotency key")
	submit.Flags().StringVar(&from, "from", "", "Source account ID")
	submit.Flags().StringVar(&to, "to", "", "Destination account ID")
	submit.Flags().StringVar(&amount, "amount", "", "Decimal amount, e.g. 25.50")
	submit.Flags().StringVar(&currency, "currency", "", "ISO 4217 currency code")
	submit.Flags().StringVar(&reference, "reference", "", "Free-form reference")
	for _, f := range []string{"key", "from", "to", "amount", "currency"} {
		_ = submit.MarkFlagRequired(f)
	}

	var decision string
	resolve := &cobra.Command{
		Use:   "resolve <transfer-id>",
		Short: "Admit or reject a held transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/transfers/" + url.PathEscape(args[0]) + "/resolve"
			resp, err := opts.client().do(cmd.Context(), http.MethodPost, path, map[string]string{"decision": decision}, nil)
			if err != nil {
				return err
			}
			return expect(cmd, resp, http.StatusOK, http.StatusAccepted)
		},
	}
	resolve.Flags().StringVar(&decision, "decision", "", "ADMIT or REJECT")
	_ = resolve.MarkFlagRequired("decision")

	cmd.AddCommand(
		submit,
		getCmd(opts, "get <transfer-id>", "Show a transfer", "/api/v1/transfers/"),
		resolve,
	)
	return cmd
}
