package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string

	interactive bool
}

func newUI() *ui {
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if !interactive {
		color.NoColor = true
	}
	return &ui{
		title:       color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:          color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:        color.New(color.FgCyan).SprintFunc(),
		warn:        color.New(color.FgYellow).SprintFunc(),
		err:         color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:         color.New(color.FgHiBlack).SprintFunc(),
		interactive: interactive,
	}
}

// globals are resolved once per invocation: flag, then env, then profile.
type globals struct {
	baseURL     string
	apiKey      string
	profileName string
	timeoutSec  int
}

func main() {
	g := &globals{
		baseURL:     getenv("QRBOT_BASE_URL", "http://localhost:8080"),
		apiKey:      getenv("QRBOT_API_KEY", ""),
		profileName: getenv("QRBOT_PROFILE", ""),
		timeoutSec:  120,
	}
	ui := newUI()

	root := &cobra.Command{
		Use:   "qrbot",
		Short: "qrbot CLI",
		Long:  "qrbot CLI for sending APK download QR codes to Slack channels.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&g.baseURL, "base-url", g.baseURL, "Base URL of the qrbot server")
	root.PersistentFlags().StringVar(&g.apiKey, "api-key", g.apiKey, "API key sent as X-API-Key")
	root.PersistentFlags().StringVar(&g.profileName, "profile", g.profileName, "Config profile")
	root.PersistentFlags().IntVar(&g.timeoutSec, "timeout", g.timeoutSec, "Request timeout in seconds")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadConfig()
		active := resolveProfileName(g.profileName, cfg)
		prof := cfg.Profiles[active]

		flags := cmd.Flags()
		if !flags.Changed("base-url") {
			if v := strings.TrimSpace(os.Getenv("QRBOT_BASE_URL")); v != "" {
				g.baseURL = v
			} else if prof.BaseURL != "" {
				g.baseURL = prof.BaseURL
			}
		}
		if !flags.Changed("api-key") {
			if v := strings.TrimSpace(os.Getenv("QRBOT_API_KEY")); v != "" {
				g.apiKey = v
			} else if prof.APIKey != "" {
				g.apiKey = prof.APIKey
			}
		}
		if g.profileName == "" {
			g.profileName = active
		}
		return nil
	}

	root.AddCommand(sendCmd(g, ui))
	root.AddCommand(broadcastCmd(g, ui))
	root.AddCommand(broadcastAllCmd(g, ui))
	root.AddCommand(channelsCmd(g, ui))
	root.AddCommand(healthCmd(g, ui))
	root.AddCommand(batchCmd(g, ui))
	root.AddCommand(configCmd(g, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func helpTemplate(ui *ui) string {
	title := ui.title("qrbot")
	return fmt.Sprintf(`%s, QR delivery from the command line

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  qrbot config set --base-url https://qrbot.internal --api-key $KEY
  qrbot send --url https://ci.example.com/app.apk --channel '#builds' --build 123
  qrbot broadcast --url https://ci.example.com/app.apk -c '#qa' -c C0A4WE1RJNR
  qrbot broadcast-all --url https://ci.example.com/app.apk --fill '#1d3557'
  qrbot batch -f releases.yaml

`, title, configPath())
}
