package app

import (
	"sync"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/util"
)

// Supervisor owns the current Runtime and rebuilds it from the config file
// on Restart.
type Supervisor struct {
	configPath string
	load       func(path string) (config.Config, error)
	logger     util.Logger
	mu         sync.Mutex
	runtime    *Runtime
}

func NewSupervisor(configPath string, logger util.Logger) *Supervisor {
	return &Supervisor{
		configPath: configPath,
		load:       LoadConfigOrDefault,
		logger:     logger,
	}
}

// LoadConfigOrDefault loads path, or returns defaults when path is empty.
func LoadConfigOrDefault(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

func (s *Supervisor) Start() error {
	cfg, err := s.load(s.configPath)
	if err != nil {
		return err
	}
	runtime, err := NewRuntime(cfg, s.logger)
	if err != nil {
		return err
	}
	if err := runtime.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	s.runtime = runtime
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) Restart() error {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()

	if current != nil {
		current.Stop()
	}
	s.logger.Info("runtime restarting", "config", s.configPath)
	return s.Start()
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if current != nil {
		current.Stop()
	}
}

// Runtime returns the current runtime, or nil when stopped.
func (s *Supervisor) Runtime() *Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime
}
