package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/victorjacobs/go-vallox/bridge"
	"github.com/victorjacobs/go-vallox/bus"
	"github.com/victorjacobs/go-vallox/config"
	"github.com/victorjacobs/go-vallox/metrics"
	"github.com/victorjacobs/go-vallox/routes"
	"github.com/victorjacobs/go-vallox/state"
	"github.com/victorjacobs/go-vallox/vallox"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the MQTT bridge",
	Long: `Poll the ventilation unit, publish its state to MQTT and apply commands
received on the command topics. This is the default command.`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfiguration(configPath)
	if err != nil {
		return err
	}
	configureLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := vallox.DefaultRegistry()
	store := state.NewStore(registry)
	m := metrics.New(store)
	session := bus.NewSession(cfg.BusConfig(), registry, store, cfg.Dialer(), m)

	log.Infof("Connecting to %v", transportName(cfg))
	if err := session.Open(ctx); err != nil {
		return fmt.Errorf("opening bus: %w", err)
	}

	var b *bridge.Bridge
	mqttOpts := cfg.ClientOptions()
	// Subscriptions live in the connect handler so they survive reconnects
	mqttOpts.SetOnConnectHandler(func(mqtt.Client) {
		b.OnConnect()
	})
	mqttOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.OnConnectionLost(err)
	})
	mqttClient := mqtt.NewClient(mqttOpts)

	b = bridge.New(bridge.Config{
		Topics:          cfg.Topics(),
		Device:          cfg.HomeAssistantDevice(),
		PublishInterval: cfg.Mqtt.PublishInterval,
		Recorder:        m,
	}, mqttClient, registry, store, session)

	log.Infof("Connecting to MQTT broker %v:%d", cfg.Mqtt.Host, cfg.Mqtt.Port)
	mqttClient.Connect()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loopSafely(gctx, "bus session", session.Run)
	})
	g.Go(func() error {
		return loopSafely(gctx, "bridge", b.Run)
	})

	if cfg.Http.Listen != "" {
		router := routes.NewRouter(store, registry, m.Handler())
		g.Go(func() error {
			return loopSafely(gctx, "http", func(ctx context.Context) error {
				return routes.Serve(ctx, cfg.Http.Listen, router)
			})
		})

		if cfg.Http.Advertise {
			shutdown, err := routes.Advertise(cfg.Device.Name, cfg.Http.Listen, []string{"id=" + cfg.Device.ID})
			if err != nil {
				log.Warnf("mDNS advertisement failed: %v", err)
			} else {
				defer shutdown()
			}
		}
	}

	err = g.Wait()
	log.Info("Shutting down")
	b.Close()

	return err
}

func transportName(cfg *config.Configuration) string {
	if cfg.Serial.URL != "" {
		return cfg.Serial.URL
	}
	return fmt.Sprintf("%v @ %d baud", cfg.Serial.Port, cfg.Serial.BaudRate)
}
