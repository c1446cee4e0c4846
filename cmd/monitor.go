package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/victorjacobs/go-vallox/bridge"
	"github.com/victorjacobs/go-vallox/bus"
	"github.com/victorjacobs/go-vallox/capture"
	"github.com/victorjacobs/go-vallox/config"
	"github.com/victorjacobs/go-vallox/vallox"
)

var (
	capturePath string
	portName    string
	wsURL       string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print bus traffic as it arrives",
	Long: `Listen on the bus without sending anything and print every telegram,
decoded against the Digit SE variable table. Frames that fail validation are
printed as errors.

The transport comes from the configuration file; --port or --url override it.
With --capture every frame is also appended to a CBOR capture file that can
be read back with the dump command.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVarP(&capturePath, "capture", "w", "", "Append frames to this capture file")
	monitorCmd.Flags().StringVarP(&portName, "port", "p", "", "Serial port device")
	monitorCmd.Flags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL of a serial bridge (ws:// or wss://)")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.ReadConfiguration(configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		return err
	}
	if portName != "" {
		cfg.Serial.Port, cfg.Serial.URL = portName, ""
	}
	if wsURL != "" {
		cfg.Serial.URL = wsURL
	}
	if err := cfg.ValidateSerial(); err != nil {
		return err
	}
	configureLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := cfg.Dialer()(ctx)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connection: %v\n", transportName(cfg))
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	var observer bus.Observer
	if capturePath != "" {
		f, err := os.OpenFile(capturePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defer f.Close()

		w := capture.NewWriter(f)
		log.Infof("Capturing to %v (session %v)", capturePath, w.Session())
		observer = w
	}

	err = monitor(ctx, conn, vallox.DefaultRegistry(), observer, out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// monitor prints every frame read from r until it fails.
func monitor(ctx context.Context, r io.Reader, registry *vallox.Registry, observer bus.Observer, out io.Writer) error {
	return bus.Sniff(r, func(frame []byte, t vallox.Telegram, err error) error {
		if observer != nil {
			observer.FrameReceived(frame, err)
		}

		ts := time.Now().Format("15:04:05.000")
		if err != nil {
			fmt.Fprintf(out, "%v [ERROR] %v\n", ts, err)
		} else {
			fmt.Fprintf(out, "%v %v\n", ts, describe(registry, t))
		}
		return ctx.Err()
	})
}

// describe renders a telegram together with the values it carries.
func describe(registry *vallox.Registry, t vallox.Telegram) string {
	if t.IsPoll() {
		return t.String()
	}

	decoded := registry.Decode(t.Variable, t.Data)
	if len(decoded) == 0 {
		return t.String()
	}

	values := make([]string, 0, len(decoded))
	for _, d := range decoded {
		values = append(values, fmt.Sprintf("%v=%v", d.Variable.ID, bridge.FormatValue(d.Variable, d.Value)))
	}
	return fmt.Sprintf("%v  %v", t, strings.Join(values, " "))
}
