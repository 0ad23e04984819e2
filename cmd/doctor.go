package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ytmc/internal/config"
	"github.com/nextlevelbuilder/ytmc/internal/gateway"
	"github.com/nextlevelbuilder/ytmc/internal/store"
	"github.com/nextlevelbuilder/ytmc/internal/store/backends"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("ytmc doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", gateway.Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Server:")
	checkSetting("Enabled", fmt.Sprint(cfg.Server.Enabled))
	checkSetting("Listen", cfg.Addr())
	checkPort(cfg.Addr())
	checkSecret("Admin token", cfg.Admin.Token, "loopback operators only")
	checkSecret("Content key", cfg.Content.Secret, "any loopback player accepted")

	fmt.Println()
	fmt.Println("  Storage:")
	checkSetting("Driver", cfg.Store.Driver)
	checkStore(cfg)

	fmt.Println()
	fmt.Println("  Optional:")
	checkSetting("Redis", enabledIf(cfg.Redis.URL != ""))
	checkSetting("Tailscale", enabledIf(cfg.Tailscale.Hostname != ""))
	checkSetting("Telemetry", enabledIf(cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint != ""))

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSetting(name, value string) {
	fmt.Printf("    %-12s %s\n", name+":", value)
}

func checkSecret(name, value, fallback string) {
	if value != "" {
		checkSetting(name, "set")
	} else {
		checkSetting(name, "(not set, "+fallback+")")
	}
}

func checkPort(addr string) {
	if isServerReachable() {
		checkSetting("Status", "running")
		return
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		checkSetting("Status", "port in use by another process: "+err.Error())
		return
	}
	ln.Close()
	checkSetting("Status", "not running (port free)")
}

func checkStore(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	kv, err := backends.Open(ctx, cfg.Store)
	if err != nil {
		checkSetting("Open", "FAILED: "+err.Error())
		return
	}
	defer kv.Close()
	if _, err := kv.List(ctx, store.TokenKeyPrefix); err != nil {
		checkSetting("Read", "FAILED: "+err.Error())
		return
	}
	checkSetting("Open", "OK")
}

func enabledIf(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
