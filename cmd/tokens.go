package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "List or revoke companion access tokens",
	}
	cmd.AddCommand(tokensListCmd())
	cmd.AddCommand(tokensRevokeCmd())
	cmd.AddCommand(tokensRevokeAllCmd())
	return cmd
}

type tokenListPayload struct {
	Tokens []struct {
		AppName  string `json:"appName"`
		IssuedAt int64  `json:"issuedAt"`
	} `json:"tokens"`
}

func fetchTokens() tokenListPayload {
	var list tokenListPayload
	mustRPC(protocol.MethodTokensList, nil, &list)
	return list
}

func tokensListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List paired apps",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			list := fetchTokens()
			if len(list.Tokens) == 0 {
				fmt.Println("No paired apps.")
				return
			}
			fmt.Println(titleStyle.Render("Paired apps"))
			for _, t := range list.Tokens {
				fmt.Println(field(t.AppName, mutedStyle.Render("issued "+formatAgo(t.IssuedAt))))
			}
		},
	}
}

func tokensRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [app]",
		Short: "Revoke every token of one app (interactive if no app given)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var app string
			if len(args) == 1 {
				app = args[0]
			} else {
				app = tokensInteractiveSelect()
				if app == "" {
					return
				}
			}

			var res struct {
				Revoked int `json:"revoked"`
			}
			mustRPC(protocol.MethodTokensRevoke, map[string]string{"appName": app}, &res)
			if res.Revoked == 0 {
				fmt.Printf("No tokens found for %s\n", app)
				return
			}
			fmt.Printf("Revoked %d token(s) for %s\n", res.Revoked, app)
		},
	}
}

// tokensInteractiveSelect lets the operator pick a paired app.
func tokensInteractiveSelect() string {
	list := fetchTokens()
	if len(list.Tokens) == 0 {
		fmt.Println("No paired apps.")
		return ""
	}

	seen := make(map[string]bool, len(list.Tokens))
	options := make([]SelectOption[string], 0, len(list.Tokens))
	for _, t := range list.Tokens {
		if seen[t.AppName] {
			continue
		}
		seen[t.AppName] = true
		label := fmt.Sprintf("%s  (issued %s)", t.AppName, formatAgo(t.IssuedAt))
		options = append(options, SelectOption[string]{Label: label, Value: t.AppName})
	}

	selected, err := promptSelect("Select an app to revoke", options, 0)
	if err != nil {
		fmt.Println("Cancelled.")
		return ""
	}
	return selected
}

func tokensRevokeAllCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "revoke-all",
		Short: "Revoke every companion token",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if !yes {
				ok, err := promptConfirm("Revoke every companion token? Paired apps will need to pair again.", false)
				if err != nil || !ok {
					fmt.Println("Cancelled.")
					return
				}
			}
			var res struct {
				Revoked int `json:"revoked"`
			}
			mustRPC(protocol.MethodTokensRevokeAll, nil, &res)
			fmt.Printf("Revoked %d token(s)\n", res.Revoked)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
