// Package configsvc watches user-editable YAML configuration files and
// notifies registered clients with freshly decoded values on change.
package configsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ghodss/yaml"
	"go.uber.org/zap"
)

type subscriber func(event fsnotify.Event)

type Service struct {
	log *zap.Logger

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	subscribers map[string][]subscriber
	ready       chan struct{}
}

func New(log *zap.Logger) *Service {
	return &Service{
		log:         log,
		subscribers: make(map[string][]subscriber),
		ready:       make(chan struct{}),
	}
}

func (s *Service) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	s.watcher = watcher
	defer s.watcher.Close()
	close(s.ready)
	s.log.Info("Config service started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			s.dispatch(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("Watcher error", zap.Error(err))
		}
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) dispatch(event fsnotify.Event) {
	s.mu.Lock()
	subs := s.subscribers[event.Name]
	s.mu.Unlock()
	for _, sub := range subs {
		sub(event)
	}
}

// Register starts watching path and calls fn with a freshly decoded value on
// every write. It returns the initial decoded configuration.
// The service is a parameter instead of the method receiver to allow the
// generic type parameter.
func Register[T any](s *Service, path string, def T, fn func(config T, err error)) (T, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return def, fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}
	config, err := readConfig(absPath, def)
	if err != nil {
		return def, fmt.Errorf("failed to read config: %w", err)
	}
	if err := watch(s, absPath, def, fn); err != nil {
		return def, err
	}
	return config, nil
}

// RegisterWriteable behaves like Register but initializes the file with the
// default value when it does not exist yet.
func RegisterWriteable[T any](s *Service, path string, def T, fn func(config T, err error)) (T, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return def, fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}
	config, err := readConfig(absPath, def)
	switch {
	case os.IsNotExist(err):
		if err := writeConfig(absPath, def); err != nil {
			return def, fmt.Errorf("failed to initialize config: %w", err)
		}
		config = def
	case err != nil:
		return def, fmt.Errorf("failed to read config: %w", err)
	}
	if err := watch(s, absPath, def, fn); err != nil {
		return def, err
	}
	return config, nil
}

func watch[T any](s *Service, absPath string, def T, fn func(config T, err error)) error {
	// fsnotify watches directories so renames and editor swap files are seen.
	dir := filepath.Dir(absPath)
	if err := s.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to add path to watcher %s: %w", absPath, err)
	}
	s.mu.Lock()
	s.subscribers[absPath] = append(s.subscribers[absPath], func(event fsnotify.Event) {
		if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
			newConfig, err := readConfig(absPath, def)
			fn(newConfig, err)
		}
	})
	s.mu.Unlock()
	return nil
}

func writeConfig[T any](path string, config T) error {
	jsonB, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	yamlB, err := yaml.JSONToYAML(jsonB)
	if err != nil {
		return fmt.Errorf("failed to convert json to yaml: %w", err)
	}
	if err := os.WriteFile(path, yamlB, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func readConfig[T any](path string, def T) (T, error) {
	yamlB, err := os.ReadFile(path)
	if err != nil {
		return def, err
	}
	jsonB, err := yaml.YAMLToJSON(yamlB)
	if err != nil {
		return def, fmt.Errorf("failed to convert yaml to json: %w", err)
	}
	if err := json.Unmarshal(jsonB, &def); err != nil {
		return def, fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return def, nil
}
