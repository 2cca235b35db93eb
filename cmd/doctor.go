package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"runtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/inplacehq/onboardbot/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("onboardbot doctor")
	fmt.Printf("  Version:  %s\n", Version)
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
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	}

	fmt.Println()
	fmt.Println("  Secrets:")
	checkSecret("OpenAI API key", cfg.Completion.APIKey)
	checkSecret("Webhook verify token", cfg.Webhook.VerifyToken)
	checkSecret("Admin token", cfg.Server.AdminToken)
	switch cfg.Delivery.Channel {
	case "telegram":
		checkSecret("Telegram token", cfg.Delivery.Telegram.Token)
	default:
		checkSecret("WhatsApp access token", cfg.Delivery.WhatsApp.AccessToken)
		if cfg.Delivery.WhatsApp.PhoneNumberID == "" {
			fmt.Printf("    %-24s MISSING\n", "WhatsApp phone number:")
		} else {
			fmt.Printf("    %-24s %s\n", "WhatsApp phone number:", cfg.Delivery.WhatsApp.PhoneNumberID)
		}
	}

	fmt.Println()
	fmt.Printf("  Sessions: %s\n", cfg.Sessions.Backend)
	if cfg.Sessions.Backend == "postgres" {
		if cfg.Sessions.PostgresDSN == "" {
			fmt.Println("    Status:  ONBOARDBOT_POSTGRES_DSN not set")
			return
		}
		db, dbErr := sql.Open("pgx", cfg.Sessions.PostgresDSN)
		if dbErr != nil {
			fmt.Printf("    Status:  CONNECT FAILED (%s)\n", dbErr)
			return
		}
		defer db.Close()
		if pingErr := db.Ping(); pingErr != nil {
			fmt.Printf("    Status:  CONNECT FAILED (%s)\n", pingErr)
		} else {
			fmt.Println("    Status:  OK")
		}
	}

	if cfg.Knowledge.Path != "" {
		fmt.Println()
		path := config.ExpandHome(cfg.Knowledge.Path)
		fmt.Printf("  Knowledge: %s", path)
		if _, err := os.Stat(path); err != nil {
			fmt.Println(" (NOT FOUND)")
		} else {
			fmt.Println(" (OK)")
		}
	}
}

func checkSecret(name, value string) {
	label := name + ":"
	if value == "" {
		fmt.Printf("    %-24s MISSING\n", label)
	} else {
		fmt.Printf("    %-24s set\n", label)
	}
}
