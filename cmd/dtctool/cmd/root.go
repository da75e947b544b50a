package cmd

import (
	"context"
	"os"

	"github.com/carloop/obdcan"
	"github.com/carloop/obdcan/pkg/events"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/ini.v1"
)

var rootCmd = &cobra.Command{
	Use:          "dtctool",
	Short:        "OBD-II fault code reader",
	Long:         "Reads and clears diagnostic trouble codes over a CAN adapter",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool(flagDebug); debug {
			log.SetLevel(log.DebugLevel)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

const (
	flagAdapter  = "adapter"
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagRate     = "rate"
	flagConfig   = "config"
	flagDebug    = "debug"
	flagBroker   = "broker"
	flagHistory  = "history"
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagAdapter, "a", "SLCan", "adapter to use")
	pf.StringP(flagPort, "p", "/dev/ttyACM0", "com-port")
	pf.IntP(flagBaudrate, "b", 115200, "com-port baudrate")
	pf.Float64P(flagRate, "r", 500, "CAN bit rate in kbit")
	pf.StringP(flagConfig, "c", "", "ini config file")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.String(flagBroker, "", "MQTT broker for code events, empty disables publishing")
	pf.String(flagHistory, "", "path to the code history database, empty disables it")
}

type settings struct {
	Adapter     string
	Port        string
	Baudrate    int
	Rate        float64
	Debug       bool
	Broker      string
	ClientID    string
	TopicPrefix string
	HistoryPath string
}

// loadSettings merges the optional ini file with command line flags.
// Flags that were set explicitly win over file values.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	fl := cmd.Flags()
	s := &settings{}
	s.Adapter, _ = fl.GetString(flagAdapter)
	s.Port, _ = fl.GetString(flagPort)
	s.Baudrate, _ = fl.GetInt(flagBaudrate)
	s.Rate, _ = fl.GetFloat64(flagRate)
	s.Debug, _ = fl.GetBool(flagDebug)
	s.Broker, _ = fl.GetString(flagBroker)
	s.HistoryPath, _ = fl.GetString(flagHistory)

	path, _ := fl.GetString(flagConfig)
	if path == "" {
		return s, nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	can := cfg.Section("can")
	if !fl.Changed(flagAdapter) && can.HasKey("adapter") {
		s.Adapter = can.Key("adapter").String()
	}
	if !fl.Changed(flagPort) && can.HasKey("port") {
		s.Port = can.Key("port").String()
	}
	if !fl.Changed(flagBaudrate) && can.HasKey("baudrate") {
		s.Baudrate = can.Key("baudrate").MustInt(s.Baudrate)
	}
	if !fl.Changed(flagRate) && can.HasKey("rate") {
		s.Rate = can.Key("rate").MustFloat64(s.Rate)
	}
	m := cfg.Section("mqtt")
	if !fl.Changed(flagBroker) && m.HasKey("broker") {
		s.Broker = m.Key("broker").String()
	}
	s.ClientID = m.Key("client_id").String()
	s.TopicPrefix = m.Key("topic_prefix").String()
	if !fl.Changed(flagHistory) && cfg.Section("history").HasKey("path") {
		s.HistoryPath = cfg.Section("history").Key("path").String()
	}
	return s, nil
}

func initCAN(ctx context.Context, s *settings, filters ...uint32) (*obdcan.Client, error) {
	device, err := obdcan.NewAdapter(s.Adapter, &obdcan.AdapterConfig{
		Port:         s.Port,
		PortBaudrate: s.Baudrate,
		CANRate:      s.Rate,
		CANFilter:    filters,
		Debug:        s.Debug,
		OnError: func(err error) {
			log.Error(err)
		},
	})
	if err != nil {
		return nil, err
	}
	return obdcan.New(ctx, device)
}

// connectEvents returns a connected publisher, or nil when no broker is
// configured. A nil publisher drops all events.
func connectEvents(s *settings) *events.Publisher {
	if s.Broker == "" {
		return nil
	}
	pub := events.NewPublisher(events.Config{
		Broker:      s.Broker,
		ClientID:    s.ClientID,
		TopicPrefix: s.TopicPrefix,
	})
	if err := pub.Connect(); err != nil {
		log.WithError(err).Warn("running without event publishing")
		return nil
	}
	return pub
}
