package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// styleFlags binds the qr_options flags shared by the delivery commands.
type styleFlags struct {
	boxSize int
	border  int
	fill    string
	back    string
}

func (s *styleFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&s.boxSize, "box-size", 0, "Pixels per QR module (1-50)")
	cmd.Flags().IntVar(&s.border, "border", -1, "Quiet zone width in modules (0-20)")
	cmd.Flags().StringVar(&s.fill, "fill", "", "Module colour, name or #hex")
	cmd.Flags().StringVar(&s.back, "back", "", "Background colour, name or #hex")
}

func (s *styleFlags) options() *qrOptions {
	o := &qrOptions{BoxSize: s.boxSize, FillColor: s.fill, BackColor: s.back}
	if s.border >= 0 {
		b := s.border
		o.Border = &b
	}
	if o.empty() {
		return nil
	}
	return o
}

// wait runs fn behind a spinner when stdout is a terminal.
func wait[T any](ui *ui, label string, fn func() (T, error)) (T, error) {
	if !ui.interactive {
		return fn()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + label
	s.Start()
	defer s.Stop()
	return fn()
}

func sendCmd(g *globals, ui *ui) *cobra.Command {
	var (
		apkURL  string
		channel string
		build   string
		style   styleFlags
	)
	cmd := &cobra.Command{
		Use:     "send",
		Short:   "Send a QR code to one channel",
		Example: "qrbot send --url https://ci.example.com/app.apk --channel '#builds' --build 123",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(apkURL) == "" || strings.TrimSpace(channel) == "" {
				return errors.New("--url and --channel are required")
			}
			req := qrRequest{APKURL: apkURL, Channel: channel, BuildNumber: build, QROptions: style.options()}
			path := "/generate-qr"
			if req.QROptions != nil {
				path = "/generate-qr/custom"
			}
			c := newClient(g)
			env, err := wait(ui, "Sending to "+channel, func() (envelope, error) {
				return c.do(http.MethodPost, path, req)
			})
			var res deliveryResult
			_ = json.Unmarshal(env.Data, &res)
			if err != nil {
				if res.Status != "" {
					printResult(ui, res)
				}
				return err
			}
			fmt.Printf("%s %s\n", ui.ok("[OK]"), env.Message)
			printResult(ui, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&apkURL, "url", "", "APK download URL")
	cmd.Flags().StringVarP(&channel, "channel", "c", "", "Channel name (#builds) or ID (C0A4WE1RJNR)")
	cmd.Flags().StringVar(&build, "build", "", "Build number")
	style.register(cmd)
	return cmd
}

func broadcastCmd(g *globals, ui *ui) *cobra.Command {
	var (
		apkURL   string
		channels []string
		build    string
		style    styleFlags
	)
	cmd := &cobra.Command{
		Use:     "broadcast",
		Short:   "Send a QR code to several channels",
		Example: "qrbot broadcast --url https://ci.example.com/app.apk -c '#qa' -c '#release'",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(apkURL) == "" || len(channels) == 0 {
				return errors.New("--url and at least one --channel are required")
			}
			req := qrRequest{APKURL: apkURL, Channels: channels, BuildNumber: build, QROptions: style.options()}
			c := newClient(g)
			env, err := wait(ui, fmt.Sprintf("Broadcasting to %d channels", len(channels)), func() (envelope, error) {
				return c.do(http.MethodPost, "/generate-qr/broadcast", req)
			})
			if err != nil {
				return err
			}
			return printSummary(ui, env)
		},
	}
	cmd.Flags().StringVar(&apkURL, "url", "", "APK download URL")
	cmd.Flags().StringSliceVarP(&channels, "channel", "c", nil, "Channel name or ID (repeatable)")
	cmd.Flags().StringVar(&build, "build", "", "Build number")
	style.register(cmd)
	return cmd
}

func broadcastAllCmd(g *globals, ui *ui) *cobra.Command {
	var (
		apkURL string
		build  string
		style  styleFlags
	)
	cmd := &cobra.Command{
		Use:   "broadcast-all",
		Short: "Send a QR code to every channel the bot is in",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(apkURL) == "" {
				return errors.New("--url is required")
			}
			req := qrRequest{APKURL: apkURL, BuildNumber: build, QROptions: style.options()}
			c := newClient(g)
			env, err := wait(ui, "Broadcasting to all channels", func() (envelope, error) {
				return c.do(http.MethodPost, "/generate-qr/broadcast-all", req)
			})
			if err != nil {
				return err
			}
			return printSummary(ui, env)
		},
	}
	cmd.Flags().StringVar(&apkURL, "url", "", "APK download URL")
	cmd.Flags().StringVar(&build, "build", "", "Build number")
	style.register(cmd)
	return cmd
}

func channelsCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List channels the bot is a member of",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(g)
			env, err := wait(ui, "Fetching channels", func() (envelope, error) {
				return c.do(http.MethodGet, "/channels", nil)
			})
			if err != nil {
				return err
			}
			var data struct {
				Channels []channelInfo `json:"channels"`
				Count    int           `json:"count"`
			}
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return err
			}
			fmt.Printf("%s %d channels\n", ui.title("qrbot"), data.Count)
			for _, ch := range data.Channels {
				vis := "public"
				if ch.IsPrivate {
					vis = "private"
				}
				fmt.Printf("  %-12s #%-30s %s %s\n", ch.ID, ch.Name, ui.dim(vis), ui.dim(fmt.Sprintf("%d members", ch.NumMembers)))
			}
			return nil
		},
	}
}

func healthCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the server and its Slack connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(g)
			env, err := wait(ui, "Checking health", func() (envelope, error) {
				return c.do(http.MethodGet, "/health", nil)
			})
			var data struct {
				Status string `json:"status"`
				Conn   struct {
					Connected bool   `json:"connected"`
					Team      string `json:"team"`
					User      string `json:"user"`
					Error     string `json:"error"`
				} `json:"slack_connection"`
			}
			_ = json.Unmarshal(env.Data, &data)
			if err != nil {
				if data.Conn.Error != "" {
					fmt.Printf("%s slack: %s\n", ui.err("[FAIL]"), data.Conn.Error)
				}
				return err
			}
			fmt.Printf("%s %s (team %s, user %s)\n", ui.ok("[OK]"), env.Message, emptyOr(data.Conn.Team, "?"), emptyOr(data.Conn.User, "?"))
			return nil
		},
	}
}

// batchJob is one entry of a batch file. An empty channel list means every
// member channel.
type batchJob struct {
	APKURL      string     `yaml:"apkUrl"`
	BuildNumber string     `yaml:"buildNumber"`
	Channels    []string   `yaml:"channels"`
	QROptions   *qrOptions `yaml:"qrOptions"`
}

type batchFile struct {
	Jobs []batchJob `yaml:"jobs"`
}

func loadBatch(path string) ([]batchJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(f.Jobs) == 0 {
		return nil, fmt.Errorf("%s has no jobs", path)
	}
	for i, j := range f.Jobs {
		if strings.TrimSpace(j.APKURL) == "" {
			return nil, fmt.Errorf("jobs[%d]: apkUrl is required", i)
		}
	}
	return f.Jobs, nil
}

func (j batchJob) request() (string, qrRequest) {
	req := qrRequest{APKURL: j.APKURL, BuildNumber: j.BuildNumber}
	if !j.QROptions.empty() {
		req.QROptions = j.QROptions
	}
	if len(j.Channels) == 0 {
		return "/generate-qr/broadcast-all", req
	}
	req.Channels = j.Channels
	return "/generate-qr/broadcast", req
}

func batchCmd(g *globals, ui *ui) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:     "batch",
		Short:   "Run the deliveries listed in a YAML file",
		Example: "qrbot batch -f releases.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := loadBatch(file)
			if err != nil {
				return err
			}
			c := newClient(g)
			bar := progressbar.NewOptions(len(jobs),
				progressbar.OptionSetDescription("Delivering"),
				progressbar.OptionSetWidth(24),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionClearOnFinish(),
			)
			type line struct {
				job string
				msg string
				err error
			}
			var lines []line
			failed := 0
			for i, j := range jobs {
				path, req := j.request()
				env, err := c.do(http.MethodPost, path, req)
				var data broadcastData
				_ = json.Unmarshal(env.Data, &data)
				if err == nil && data.FailedCount > 0 {
					err = fmt.Errorf("%d of %d deliveries failed", data.FailedCount, data.TotalCount)
				}
				if err != nil {
					failed++
				}
				lines = append(lines, line{job: fmt.Sprintf("job %d (%s)", i+1, emptyOr(j.BuildNumber, "latest")), msg: env.Message, err: err})
				_ = bar.Add(1)
			}
			_ = bar.Finish()

			for _, l := range lines {
				if l.err != nil {
					fmt.Printf("%s %s: %v\n", ui.err("[FAIL]"), l.job, l.err)
					continue
				}
				fmt.Printf("%s %s: %s\n", ui.ok("[OK]"), l.job, l.msg)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs had failures", failed, len(jobs))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Batch file (YAML)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd(g *globals, ui *ui) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI profiles",
	}

	var baseURL, apiKey string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store server URL and API key in the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" && apiKey == "" {
				return errors.New("provide --url and/or --key")
			}
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(g.profileName, cfg)
			prof := cfg.Profiles[active]
			if baseURL != "" {
				prof.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
			}
			if apiKey != "" {
				prof.APIKey = strings.TrimSpace(apiKey)
			}
			cfg.Profiles[active] = prof
			cfg.CurrentProfile = active
			if err := saveConfig(cfg, path); err != nil {
				return err
			}
			fmt.Printf("%s Profile '%s' saved to %s\n", ui.ok("[OK]"), active, path)
			return nil
		},
	}
	set.Flags().StringVar(&baseURL, "url", "", "Server base URL")
	set.Flags().StringVar(&apiKey, "key", "", "API key")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the active profile (API key masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(g.profileName, cfg)
			prof := cfg.Profiles[active]
			fmt.Printf("%s Profile: %s\n", ui.title("qrbot"), active)
			fmt.Printf("%s File:     %s\n", ui.info("•"), path)
			fmt.Printf("%s Base URL: %s\n", ui.info("•"), emptyOr(prof.BaseURL, "<unset>"))
			fmt.Printf("%s API Key:  %s\n", ui.info("•"), maskToken(prof.APIKey))
			return nil
		},
	}

	cfgCmd.AddCommand(set, show)
	return cfgCmd
}

func printResult(ui *ui, r deliveryResult) {
	name := r.Channel
	if r.ChannelName != "" && !strings.Contains(name, r.ChannelName) {
		name = fmt.Sprintf("%s (#%s)", name, r.ChannelName)
	}
	if r.Status == "success" {
		fmt.Printf("  %s %-32s %s\n", ui.ok("✓"), name, ui.dim(r.FileID))
		return
	}
	detail := fmt.Sprintf("%s, %d attempts", r.FailureKind, r.Attempts)
	if r.Retriable {
		detail += ", retriable"
	}
	fmt.Printf("  %s %-32s %s %s\n", ui.err("✗"), name, r.Error, ui.dim("("+detail+")"))
}

func printSummary(ui *ui, env envelope) error {
	var data broadcastData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}
	tag := ui.ok("[OK]")
	if data.FailedCount > 0 {
		tag = ui.warn("[WARN]")
	}
	fmt.Printf("%s %s\n", tag, env.Message)
	for _, r := range data.Results {
		printResult(ui, r)
	}
	if data.FailedCount > 0 {
		return fmt.Errorf("%d of %d deliveries failed", data.FailedCount, data.TotalCount)
	}
	return nil
}
