package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

func gateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Open, close or inspect the pairing window",
	}
	cmd.AddCommand(gateActionCmd("enable", "Open the pairing window", protocol.MethodGateEnable))
	cmd.AddCommand(gateActionCmd("disable", "Close the pairing window", protocol.MethodGateDisable))
	cmd.AddCommand(gateActionCmd("status", "Show the pairing window state", protocol.MethodGateStatus))
	return cmd
}

type gateStatusPayload struct {
	Gate struct {
		Open      bool      `json:"open"`
		EnabledAt time.Time `json:"enabledAt"`
		ExpiresAt time.Time `json:"expiresAt"`
	} `json:"gate"`
	PendingCodes []struct {
		AppName   string `json:"appName"`
		ExpiresAt int64  `json:"expiresAt"`
	} `json:"pendingCodes"`
}

func gateActionCmd(use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			var st gateStatusPayload
			mustRPC(method, nil, &st)
			printGateStatus(st)
		},
	}
}

func printGateStatus(st gateStatusPayload) {
	fmt.Println(titleStyle.Render("Pairing window"))
	if st.Gate.Open {
		fmt.Println(field("State", okStyle.Render("open")))
		fmt.Println(field("Opened", st.Gate.EnabledAt.Local().Format(time.Kitchen)))
		fmt.Println(field("Closes", formatIn(st.Gate.ExpiresAt)))
	} else {
		fmt.Println(field("State", mutedStyle.Render("closed")))
	}
	if len(st.PendingCodes) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(titleStyle.Render("Pending codes"))
	for _, c := range st.PendingCodes {
		fmt.Println(field(c.AppName, formatIn(time.UnixMilli(c.ExpiresAt))))
	}
}
