package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/relayflow/relay-agent/components/nodes"
	"github.com/relayflow/relay-agent/internal/configsvc"
	"github.com/relayflow/relay-agent/internal/devicesvc"
	"github.com/relayflow/relay-agent/internal/flowsvc"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

type Agent struct {
	config Config

	db        *badger.DB
	registry  *flowsvc.NodeRegistry
	configSvc *configsvc.Service
	deviceSvc *devicesvc.Service
	flowSvc   *flowsvc.Service
}

func NewAgent(config Config) (*Agent, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}

	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	seed, err := readDeviceSeed(config.DeviceConfig)
	if err != nil {
		return nil, err
	}

	configSvc := configsvc.New(logger.Named("config"))
	memBackend := devicesvc.NewMemBackend(logger.Named("device.mem"), seed)
	deviceSvc := devicesvc.New(db, logger.Named("device"), time.Now, devicesvc.WithBackend("mem", memBackend))

	registry := flowsvc.NewNodeRegistry()
	nodes.Register(logger, registry)

	flowSvc := flowsvc.New(logger.Named("flow"), configSvc, config.FlowConfig, deviceSvc, registry)
	return &Agent{
		config:    config,
		db:        db,
		registry:  registry,
		configSvc: configSvc,
		deviceSvc: deviceSvc,
		flowSvc:   flowSvc,
	}, nil
}

// readDeviceSeed loads the optional device seed file. A missing file just
// means the agent starts with no pre-populated channels.
func readDeviceSeed(path string) ([]devicesvc.SeedChannel, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read device config: %w", err)
	}
	seed, err := devicesvc.ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse device config: %w", err)
	}
	return seed, nil
}

func (a *Agent) Close() error {
	return a.db.Close()
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

// Run starts the agent and blocks until the context is cancelled.
// Agent startup will fail if the configuration is not valid.
// In case configuration becomes invalid after the startup, it will remain
// running with the last valid configuration.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.deviceSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.flowSvc.Start(groupCtx)
	})

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) Flow() *flowsvc.Service {
	return a.flowSvc
}

func (a *Agent) Device() *devicesvc.Service {
	return a.deviceSvc
}
