package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyradotpink/influencer/internal/config"
	"github.com/cyradotpink/influencer/internal/obsws"
)

// loadConfig layers the settings file, the environment and any flags the
// user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		port, _ := flags.GetUint16("port")
		cfg.Port = int(port)
	}
	if flags.Changed("password") {
		cfg.Password, _ = flags.GetString("password")
	}
	if flags.Changed("compact") {
		cfg.Compact, _ = flags.GetBool("compact")
	}
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		cfg.RequestTimeoutMillis = int(d / time.Millisecond)
		if d > 0 && cfg.RequestTimeoutMillis == 0 {
			return nil, fmt.Errorf("--timeout %s is below 1ms", d)
		}
	}
	if flags.Changed("retry") {
		cfg.Retries, _ = flags.GetInt("retry")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if f := flags.Lookup("redis-addr"); f != nil && f.Changed {
		cfg.Redis.Addr = f.Value.String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().
		Logger()
}

// connect dials and identifies, retrying transport failures up to
// cfg.Retries extra times. Authentication and protocol failures are final.
func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger, subs *obsws.EventSubscription) (*obsws.Client, error) {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: true}
	url := cfg.URL()

	for {
		client, err := dialOnce(ctx, url, cfg, logger, subs)
		if err == nil {
			return client, nil
		}
		if errors.Is(err, obsws.ErrAuthenticationFailed) || errors.Is(err, obsws.ErrProtocolViolation) || ctx.Err() != nil {
			return nil, err
		}
		if int(b.Attempt()) >= cfg.Retries {
			return nil, err
		}
		wait := b.Duration()
		logger.Warn().Err(err).Str("url", url).Dur("retry_in", wait).Msg("connect failed")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func dialOnce(ctx context.Context, url string, cfg *config.Config, logger zerolog.Logger, subs *obsws.EventSubscription) (*obsws.Client, error) {
	conn, err := obsws.Dial(ctx, url, obsws.DialOptions{KeepAlive: cfg.KeepAlive()})
	if err != nil {
		return nil, err
	}
	return obsws.Connect(ctx, conn, obsws.Options{
		Password:           cfg.Password,
		EventSubscriptions: subs,
		RequestTimeout:     cfg.RequestTimeout(),
		Logger:             logger,
	})
}

// session loads settings and connects; the caller closes the client.
func session(cmd *cobra.Command, subs *obsws.EventSubscription) (*obsws.Client, *config.Config, zerolog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg.LogLevel)
	client, err := connect(cmd.Context(), cfg, logger, subs)
	if err != nil {
		return nil, cfg, logger, err
	}
	logger.Debug().
		Str("url", cfg.URL()).
		Int("rpc_version", client.RPCVersion()).
		Msg("connected")
	return client, cfg, logger, nil
}
