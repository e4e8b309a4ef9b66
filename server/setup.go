package main

import (
	"fmt"
	"time"

	"github.com/san-kum/detection-lights/server/actuator"
	"github.com/san-kum/detection-lights/server/cache"
	"github.com/san-kum/detection-lights/server/config"
	"github.com/san-kum/detection-lights/server/eventlog"
	"github.com/san-kum/detection-lights/server/models"
	"github.com/san-kum/detection-lights/server/processor"
	"go.uber.org/zap"
)

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format != "json" {
		zc = zap.NewDevelopmentConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zc.Level = level
	}
	return zc.Build()
}

// newDriver opens the configured actuator. Every driver starts with all
// channels deasserted.
func newDriver(cfg config.ActuatorConfig) (actuator.Driver, error) {
	switch cfg.Driver {
	case config.DriverGPIO:
		lines := cfg.GPIOLines
		if len(lines) == 0 {
			lines = actuator.DefaultGPIOChannels(cfg.Channels...)
		}
		return actuator.NewGPIODriver(actuator.GPIOConfig{
			Chip:      cfg.GPIOChip,
			Channels:  lines,
			Order:     cfg.Channels,
			ActiveLow: cfg.ActiveLow,
			Consumer:  "detection-lights",
		})
	case config.DriverSerial:
		relays := cfg.Relays
		if len(relays) == 0 {
			relays = make(map[string][]int, len(cfg.Channels))
			for i, name := range cfg.Channels {
				relays[name] = []int{i + 1}
			}
		}
		return actuator.NewSerialRelayDriver(actuator.SerialRelayConfig{
			Port:     cfg.SerialPort,
			BaudRate: cfg.SerialBaud,
			Channels: relays,
			Order:    cfg.Channels,
		})
	case config.DriverMock:
		return actuator.NewMemoryDriver(cfg.Channels...), nil
	default:
		return nil, fmt.Errorf("unknown actuator driver %q", cfg.Driver)
	}
}

func newChannelMap(stateMap map[string]string) (actuator.ChannelMap, error) {
	channels := make(actuator.ChannelMap, len(stateMap))
	for name, channel := range stateMap {
		state, err := models.ParseLightState(name)
		if err != nil {
			return nil, err
		}
		if state == models.LightOff {
			return nil, fmt.Errorf("OFF cannot be mapped to a channel")
		}
		channels[state] = channel
	}
	return channels, nil
}

func newControllerConfig(cfg config.ControllerConfig, stateMap map[string]string) (processor.ControllerConfig, error) {
	bands, err := processor.ParseBands(cfg.Bands)
	if err != nil {
		return processor.ControllerConfig{}, err
	}
	channels, err := newChannelMap(stateMap)
	if err != nil {
		return processor.ControllerConfig{}, err
	}

	return processor.ControllerConfig{
		TargetLabel:         cfg.TargetLabel,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Bands:               bands,
		Channels:            channels,
		RisingFrames:        cfg.RisingFrames,
		FallingFrames:       cfg.FallingFrames,
		IdleOnEmpty:         cfg.IdleOnEmpty,
		DualCounter:         cfg.DualCounter,
		ShutdownTimeout:     cfg.ShutdownTimeout,
	}, nil
}

// newSinks opens the file logs, truncating any previous run, and the optional
// SQLite history.
func newSinks(cfg config.EventLogConfig) ([]eventlog.Sink, error) {
	var sinks []eventlog.Sink
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	csvSink, err := eventlog.NewCSVSink(cfg.CSVPath)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, csvSink)

	textSink, err := eventlog.NewTextSink(cfg.TextPath)
	if err != nil {
		closeAll()
		return nil, err
	}
	sinks = append(sinks, textSink)

	if cfg.SQLitePath != "" {
		sqliteSink, err := eventlog.NewSQLiteSink(cfg.SQLitePath)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, sqliteSink)
	}

	return sinks, nil
}

// newCache prefers Redis and falls back to an in-process cache.
func newCache(cfg config.RedisConfig, logger *zap.Logger) cache.Cache {
	if cfg.Host != "" {
		redisCache, err := cache.NewRedisCache(cfg.Host, cfg.Port, cfg.Password, cfg.DB, cfg.StateTTL, logger)
		if err == nil {
			return redisCache
		}
		logger.Warn("Failed to connect to Redis, using memory cache", zap.Error(err))
	}
	return cache.NewMemoryCache(16, cfg.StateTTL, logger)
}

func newQueueConfig(cfg config.ControllerConfig) processor.QueueConfig {
	return processor.QueueConfig{
		PollInterval:   cfg.PollInterval,
		CommandTimeout: cfg.CommandTimeout,
	}
}

func shutdownDeadline(cfg config.ControllerConfig) time.Duration {
	return cfg.ShutdownTimeout + 5*time.Second
}
