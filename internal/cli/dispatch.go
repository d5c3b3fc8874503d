package cli

import (
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SnakeO/gps-catcher/internal/messaging/rabbitmq"
)

var dispatchListen bool

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Delivers pending fence alerts to their webhooks",
	Long:  `Runs one dispatch pass over pending alerts. With --listen it keeps consuming alert hand-offs from RabbitMQ until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.dispatcher.DispatchPending(ctx)
		if err != nil {
			return err
		}
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(result); err != nil {
			return err
		}

		if !dispatchListen {
			return nil
		}
		if a.amqp == nil {
			return errors.New("--listen needs rabbitmq.url")
		}
		consumer := rabbitmq.NewAlertConsumer(a.dispatcher, logger)
		return consumer.Consume(ctx, a.amqp, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue)
	},
}

func init() {
	dispatchCmd.Flags().BoolVar(&dispatchListen, "listen", false, "keep consuming alert hand-offs from RabbitMQ")
	rootCmd.AddCommand(dispatchCmd)
}
