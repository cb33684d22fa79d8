package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyradotpink/influencer/internal/config"
	"github.com/cyradotpink/influencer/internal/obsws"
	"github.com/cyradotpink/influencer/internal/relay"
)

var eventsCmd = &cobra.Command{
	Use:   "events [BITMASK]",
	Short: "Print events as they arrive.",
	Long: `Identifies with the given event subscription BITMASK and prints each event
as JSON. Without BITMASK the event_subscriptions setting is used, and without
that the server default. With --relay-redis every event is also published to
Redis; with --from-redis events are read from Redis instead of OBS. Redis is
configured through the redis section of the settings file, REDIS_ADDR,
REDIS_PASSWORD, REDIS_DB, REDIS_PREFIX and --redis-addr.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subs, err := parseMask(args)
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")
		toRedis, _ := cmd.Flags().GetBool("relay-redis")
		fromRedis, _ := cmd.Flags().GetBool("from-redis")
		if toRedis && fromRedis {
			return errors.New("--relay-redis and --from-redis are exclusive")
		}

		if fromRedis {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return listenRedis(cmd.Context(), cmd.OutOrStdout(), cfg, newLogger(cfg.LogLevel), count)
		}

		if subs == nil {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			subs = cfg.Subscriptions()
		}
		client, cfg, logger, err := session(cmd, subs)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if toRedis {
			r := relay.NewRedisRelay(cfg.Redis, logger)
			defer r.Close()
			if err := r.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			sub := client.Subscribe()
			defer sub.Close()
			go func() {
				if err := r.Run(ctx, sub); err != nil && !errors.Is(err, obsws.ErrConnectionClosed) {
					logger.Error().Err(err).Msg("relay stopped")
				}
			}()
		}

		sub := client.Subscribe()
		defer sub.Close()
		return printEvents(ctx, cmd.OutOrStdout(), sub, cfg.Compact, count)
	},
}

func init() {
	eventsCmd.Flags().Int("count", 0, "Exit after this many events, 0 for no limit")
	eventsCmd.Flags().Bool("relay-redis", false, "Also publish every event to Redis")
	eventsCmd.Flags().Bool("from-redis", false, "Read events relayed through Redis instead of connecting to OBS")
	eventsCmd.Flags().String("redis-addr", "", "Redis address (env REDIS_ADDR)")
	rootCmd.AddCommand(eventsCmd)
}

// parseMask accepts decimal or 0x-prefixed hexadecimal.
func parseMask(args []string) (*obsws.EventSubscription, error) {
	if len(args) == 0 {
		return nil, nil
	}
	n, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return nil, fmt.Errorf("BITMASK: %w", err)
	}
	return obsws.Subscriptions(obsws.EventSubscription(n)), nil
}

// printEvents writes events from src until ctx ends, src fails or count
// events have been printed.
func printEvents(ctx context.Context, w io.Writer, src relay.EventSource, compact bool, count int) error {
	for n := 0; count == 0 || n < count; n++ {
		ev, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := writeJSON(w, ev, compact); err != nil {
			return err
		}
	}
	return nil
}

func listenRedis(ctx context.Context, w io.Writer, cfg *config.Config, logger zerolog.Logger, count int) error {
	r := relay.NewRedisRelay(cfg.Redis, logger)
	defer r.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := 0
	var werr error
	err := r.Listen(ctx, func(ev obsws.Event) {
		if werr != nil {
			return
		}
		if werr = writeJSON(w, ev, cfg.Compact); werr != nil {
			cancel()
			return
		}
		n++
		if count > 0 && n >= count {
			cancel()
		}
	})
	if werr != nil {
		return werr
	}
	return err
}
