// Command fieldgate runs the fieldbus gateway. It creates every protocol
// instance named in the configuration file, connects them all, and serves
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Alexchinaxian/fieldbus/canbus"
	"github.com/Alexchinaxian/fieldbus/config"
	"github.com/Alexchinaxian/fieldbus/logger"
	"github.com/Alexchinaxian/fieldbus/modbus"
	"github.com/Alexchinaxian/fieldbus/protocol"
)

func main() {
	configPath := flag.String("config", "fieldgate.toml", "path to the gateway configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	l := logger.NewSlog(parseLevel(*logLevel), false)

	if err := run(l, *configPath); err != nil {
		l.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run(l logger.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Count() == 0 {
		return fmt.Errorf("no protocol instances configured in %s", configPath)
	}

	reg := newRegistry(l)

	for name, section := range cfg.Serial {
		mc := section.MasterConfig()
		if _, err := reg.Create(name, protocol.KindRTUMaster, &mc); err != nil {
			return err
		}
	}
	for name, mc := range cfg.TCP {
		if _, err := reg.Create(name, protocol.KindTCPMaster, &mc); err != nil {
			return err
		}
	}
	for name, section := range cfg.Slave {
		sc := section.SlaveConfig()
		if _, err := reg.Create(name, protocol.KindRTUSlave, &sc); err != nil {
			return err
		}
	}

	receivers, err := startCANReceivers(cfg, l)
	if err != nil {
		reg.DestroyAll()
		return err
	}

	ctx := context.Background()

	if err := reg.ConnectAll(ctx); err != nil {
		l.Error("connect failed", "error", err)
		stopCANReceivers(receivers, l)
		reg.DestroyAll()

		return err
	}

	l.Info("gateway running", "instances", reg.Count(), "can_receivers", len(receivers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	l.Info("shutting down", "signal", sig.String())

	if err := reg.DisconnectAll(ctx); err != nil {
		l.Warn("disconnect failed", "error", err)
	}
	stopCANReceivers(receivers, l)
	reg.DestroyAll()

	return nil
}

// newRegistry wires the protocol factories. Each factory closes over the
// process logger; the instances derive their own child loggers from it.
func newRegistry(l logger.Logger) *protocol.Registry {
	reg := protocol.NewRegistry(l)

	reg.RegisterFactory(protocol.KindRTUMaster, func(name string, cfg any) (protocol.Protocol, error) {
		c, ok := cfg.(*modbus.RTUMasterConfig)
		if !ok {
			return nil, fmt.Errorf("rtu master %s: unexpected config type %T", name, cfg)
		}

		return modbus.NewRTUMaster(name, c, l)
	})

	reg.RegisterFactory(protocol.KindTCPMaster, func(name string, cfg any) (protocol.Protocol, error) {
		c, ok := cfg.(*modbus.TCPMasterConfig)
		if !ok {
			return nil, fmt.Errorf("tcp master %s: unexpected config type %T", name, cfg)
		}

		return modbus.NewTCPMaster(name, c, l)
	})

	reg.RegisterFactory(protocol.KindRTUSlave, func(name string, cfg any) (protocol.Protocol, error) {
		c, ok := cfg.(*modbus.RTUSlaveConfig)
		if !ok {
			return nil, fmt.Errorf("rtu slave %s: unexpected config type %T", name, cfg)
		}

		return modbus.NewRTUSlave(name, c, l)
	})

	reg.OnCreated(func(name string, kind protocol.Kind) {
		l.Info("protocol created", "name", name, "kind", kind.String())
	})
	reg.OnDestroyed(func(name string) {
		l.Info("protocol destroyed", "name", name)
	})

	return reg
}

// canRunner pairs a receiver with the device it drains so shutdown can
// release both.
type canRunner struct {
	recv   *canbus.Receiver
	device *canbus.SocketCAN
}

func startCANReceivers(cfg *config.Config, l logger.Logger) (map[string]canRunner, error) {
	receivers := make(map[string]canRunner, len(cfg.CAN))

	for name, section := range cfg.CAN {
		device, err := canbus.OpenSocketCAN(section.Interface)
		if err != nil {
			stopCANReceivers(receivers, l)
			return nil, err
		}

		recv := canbus.NewReceiver(device, section.ReceiverConfig, l.With("can", name))
		recv.OnBufferOverflow(func(dropped uint64) {
			l.Warn("can frames dropped", "name", name, "dropped", dropped)
		})

		if err := recv.Start(); err != nil {
			_ = device.Close()
			stopCANReceivers(receivers, l)

			return nil, err
		}

		receivers[name] = canRunner{recv: recv, device: device}

		l.Info("can receiver started", "name", name, "interface", section.Interface)
	}

	return receivers, nil
}

func stopCANReceivers(receivers map[string]canRunner, l logger.Logger) {
	for name, runner := range receivers {
		// Closing the device first makes the receive loop's reads fail
		// fast so Stop does not ride out its full wait.
		if err := runner.device.Close(); err != nil {
			l.Warn("can device close failed", "name", name, "error", err)
		}
		if err := runner.recv.Stop(); err != nil {
			l.Warn("can receiver stop failed", "name", name, "error", err)
		}
	}
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.DebugLevel
	case "info":
		return logger.InfoLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
