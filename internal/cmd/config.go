package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/arloliu/backflow"
)

const (
	defaultNATSURL = nats.DefaultURL
	keyNATSURL     = "natsurl"
)

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"maxbatchsize":       "MAX_BATCH_SIZE",
	"latencythresholdms": "LATENCY_THRESHOLD",
	"streamname":         "STREAM_NAME",
	"workersubject":      "WORKER_SUBJECT",
	"outcomebucket":      "TABLE_NAME",
	"bindingid":          "BINDING_ID",
	keyNATSURL:           "NATS_URL",
}

func (a *app) readConfig() error {
	for key, env := range envBindings {
		if err := a.v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	cfgFile := a.v.GetString("config")
	if cfgFile == "" {
		return nil
	}

	a.v.SetConfigFile(cfgFile)
	a.v.SetConfigType("yaml")
	if err := a.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
	}

	return nil
}

// config decodes the merged file and environment settings over the defaults.
func (a *app) config() (backflow.Config, error) {
	cfg := backflow.DefaultConfig()

	err := a.v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return backflow.Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	backflow.SetDefaults(&cfg)

	if err := cfg.ValidateWithWarnings(a.logger); err != nil {
		return backflow.Config{}, err
	}

	return cfg, nil
}

// connect dials NATS, or starts an embedded server first when --embedded is set.
// The returned function closes the connection and the embedded server.
func (a *app) connect() (*nats.Conn, func(), error) {
	url := a.v.GetString(keyNATSURL)
	shutdown := func() {}

	if a.v.GetBool("embedded") {
		ns, dir, err := startEmbedded()
		if err != nil {
			return nil, nil, err
		}
		url = ns.ClientURL()
		shutdown = func() {
			ns.Shutdown()
			ns.WaitForShutdown()
			_ = os.RemoveAll(dir)
		}
		a.logger.Info("embedded NATS server started", "url", url)
	}

	nc, err := nats.Connect(url,
		nats.Name("backflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				a.logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			a.logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		shutdown()
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return nc, func() {
		nc.Close()
		shutdown()
	}, nil
}

func startEmbedded() (*server.Server, string, error) {
	dir, err := os.MkdirTemp("", "backflow-js-*")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create JetStream store dir: %w", err)
	}

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  dir,
		NoLog:     true,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, "", fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		_ = os.RemoveAll(dir)
		return nil, "", errors.New("embedded NATS server not ready")
	}

	return ns, dir, nil
}
