package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind string
	port int

	databaseURL string

	sessionSecret  string
	sessionTTLDays int

	mediaKey    string
	mediaSecret string
	mediaURL    string

	smtpHost     string
	smtpPort     int
	smtpUsername string
	smtpPassword string
	smtpFrom     string

	publicURL string
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if len(c.sessionSecret) < 16 {
		return errors.New("--session-secret must be at least 16 bytes")
	}
	if c.sessionTTLDays < 1 {
		return errors.New("--session-ttl-days must be positive")
	}
	if (c.mediaKey == "") != (c.mediaSecret == "") {
		return errors.New("--media-key and --media-secret must be provided together")
	}
	return nil
}

func (c *Config) listenAddr() string {
	return fmt.Sprintf("%s:%d", c.bind, c.port)
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("FIVECROWNS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "fivecrownsd",
		Short:         "Authoritative Five Crowns game server: accounts, lobbies, realtime play.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return Serve(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: FIVECROWNS_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: FIVECROWNS_PORT)")
	fs.StringVar(&cfg.databaseURL, "database-url", "fivecrowns.db", "sqlite path or postgres:// URL (env: FIVECROWNS_DATABASE_URL)")
	fs.StringVar(&cfg.sessionSecret, "session-secret", "", "secret for signing session tokens (env: FIVECROWNS_SESSION_SECRET)")
	fs.IntVar(&cfg.sessionTTLDays, "session-ttl-days", 7, "session token lifetime in days (env: FIVECROWNS_SESSION_TTL_DAYS)")
	fs.StringVar(&cfg.mediaKey, "media-key", "", "media server API key (env: FIVECROWNS_MEDIA_KEY)")
	fs.StringVar(&cfg.mediaSecret, "media-secret", "", "media server API secret (env: FIVECROWNS_MEDIA_SECRET)")
	fs.StringVar(&cfg.mediaURL, "media-url", "", "media server URL handed to clients (env: FIVECROWNS_MEDIA_URL)")
	fs.StringVar(&cfg.smtpHost, "smtp-host", "", "SMTP relay host; mails are logged when unset (env: FIVECROWNS_SMTP_HOST)")
	fs.IntVar(&cfg.smtpPort, "smtp-port", 587, "SMTP relay port (env: FIVECROWNS_SMTP_PORT)")
	fs.StringVar(&cfg.smtpUsername, "smtp-username", "", "SMTP username (env: FIVECROWNS_SMTP_USERNAME)")
	fs.StringVar(&cfg.smtpPassword, "smtp-password", "", "SMTP password (env: FIVECROWNS_SMTP_PASSWORD)")
	fs.StringVar(&cfg.smtpFrom, "smtp-from", "noreply@fivecrowns.local", "From address for account mails (env: FIVECROWNS_SMTP_FROM)")
	fs.StringVar(&cfg.publicURL, "public-url", "http://localhost:8080", "base URL used in account emails (env: FIVECROWNS_PUBLIC_URL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("fivecrownsd v{{.Version}}\n")

	return cmd
}
