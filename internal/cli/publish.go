package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/petrijr/bgwork/internal/broker/rabbitmq"
	"github.com/petrijr/bgwork/internal/broker/redisstream"
	"github.com/petrijr/bgwork/internal/config"
)

type publishOptions struct {
	broker  string
	url     string
	target  string
	props   map[string]string
	raw     bool
	maxLen  int64
	timeout time.Duration
}

func newPublishCommand() *cobra.Command {
	var o publishOptions
	cmd := &cobra.Command{
		Use:   "publish [body|-]",
		Short: "Publish a message to a Redis stream or a RabbitMQ queue",
		Long: "Publish a message body given as argument, or read from stdin when the " +
			"argument is \"-\" or missing. Broker, URL and target default to the " +
			"broker section of the configuration. RabbitMQ queues must already exist.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			o.fill(cfg.Broker)

			body, err := readBody(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			if !o.raw && !json.Valid(body) {
				return errors.New("publish: body is not valid JSON (pass --raw to send it anyway)")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			id, err := publish(ctx, o, body)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.broker, "broker", "", "redis or rabbitmq (default from broker.kind)")
	f.StringVar(&o.url, "url", "", "broker URL (default from broker.url)")
	f.StringVar(&o.target, "to", "", "stream or queue name (default from broker.stream or broker.queue)")
	f.StringToStringVarP(&o.props, "prop", "p", nil, "message property key=value, repeatable")
	f.BoolVar(&o.raw, "raw", false, "skip the JSON check")
	f.Int64Var(&o.maxLen, "max-len", 0, "approximate Redis stream length cap, 0 for none")
	f.DurationVar(&o.timeout, "timeout", 10*time.Second, "publish timeout")
	return cmd
}

// fill takes unset values from the configured broker.
func (o *publishOptions) fill(b config.BrokerConfig) {
	if o.broker == "" {
		switch b.Kind {
		case config.BrokerRedisQueue, config.BrokerRedisLog:
			o.broker = "redis"
		case config.BrokerRabbitMQ:
			o.broker = "rabbitmq"
		}
	}
	if o.url == "" {
		o.url = b.URL
	}
	if o.target == "" {
		if o.broker == "rabbitmq" {
			o.target = b.Queue
		} else {
			o.target = b.Stream
		}
	}
}

func readBody(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	body, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("publish: read body: %w", err)
	}
	return body, nil
}

// publish sends body and returns the broker's id for it, if any.
func publish(ctx context.Context, o publishOptions, body []byte) (string, error) {
	if o.url == "" {
		return "", errors.New("publish: no broker URL (set --url or broker.url)")
	}
	if o.target == "" {
		return "", errors.New("publish: no target (set --to, broker.stream or broker.queue)")
	}

	switch o.broker {
	case "redis":
		opts, err := redis.ParseURL(o.url)
		if err != nil {
			return "", fmt.Errorf("publish: parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		return redisstream.Publish(ctx, client, o.target, body, o.props, o.maxLen)

	case "rabbitmq":
		conn, err := amqp.DialConfig(o.url, amqp.Config{Locale: "en_US", Dial: amqp.DefaultDial(o.timeout)})
		if err != nil {
			return "", fmt.Errorf("publish: dial rabbitmq: %w", err)
		}
		defer conn.Close()
		if err := rabbitmq.Publish(ctx, conn, o.target, body, o.props); err != nil {
			return "", err
		}
		return o.target, nil
	}
	return "", fmt.Errorf("publish: unknown broker %q (want redis or rabbitmq)", o.broker)
}
