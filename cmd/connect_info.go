package cmd

import (
	"fmt"
	"net"
	"strconv"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ytmc/internal/config"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

func connectInfoCmd() *cobra.Command {
	var showQR bool
	cmd := &cobra.Command{
		Use:   "connect-info",
		Short: "Print the address companion apps should connect to",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			urls := companionURLs(cfg)
			if len(urls) == 0 {
				exitf("No usable network address found for %s\n", cfg.Addr())
			}

			fmt.Println(titleStyle.Render("Companion server"))
			for _, u := range urls {
				fmt.Println(field("URL", u))
			}
			if !cfg.Server.Enabled {
				fmt.Println(warnStyle.Render("server.enabled is false; companions cannot connect."))
			} else if !isServerReachable() {
				fmt.Println(warnStyle.Render("The server is not running."))
			}
			fmt.Println(mutedStyle.Render("Run `ytmc gate enable` to let a new app pair."))

			if showQR {
				q, err := qrcode.New(urls[0], qrcode.Medium)
				if err != nil {
					exitf("Error rendering QR code: %v\n", err)
				}
				fmt.Println()
				fmt.Print(q.ToSmallString(false))
			}
		},
	}
	cmd.Flags().BoolVar(&showQR, "qr", false, "also print the first URL as a QR code")
	return cmd
}

// companionURLs lists base URLs for the companion API. A wildcard host
// expands to every non-loopback IPv4 address, loopback last.
func companionURLs(cfg *config.Config) []string {
	port := strconv.Itoa(cfg.Server.Port)
	build := func(host string) string {
		return "http://" + net.JoinHostPort(host, port) + protocol.APIPrefix
	}

	switch cfg.Server.Host {
	case "", "0.0.0.0", "::":
	default:
		return []string{build(cfg.Server.Host)}
	}

	var urls []string
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil || ipnet.IP.IsLinkLocalUnicast() {
				continue
			}
			urls = append(urls, build(ipnet.IP.String()))
		}
	}
	return append(urls, build("127.0.0.1"))
}
