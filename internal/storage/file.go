package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type registryFile struct {
	Devices map[string]types.DeviceConfig `json:"devices"`
}

// FileStore keeps the registry in one JSON or YAML file, chosen by extension.
type FileStore struct {
	path   string
	yaml   bool
	logger *zap.Logger
	mu     sync.Mutex
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	ext := strings.ToLower(filepath.Ext(path))
	return &FileStore{
		path:   path,
		yaml:   ext == ".yaml" || ext == ".yml",
		logger: logger,
	}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load reads the registry. A missing file is created empty; a file in an
// older layout is backed up, migrated and rewritten.
func (s *FileStore) Load(ctx context.Context) (map[string]types.DeviceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Info("Device registry not found, creating empty file", zap.String("path", s.path))
		devices := map[string]types.DeviceConfig{}
		if err := s.write(devices); err != nil {
			return nil, err
		}
		return devices, nil
	}
	if err != nil {
		return nil, types.NewError(types.KindIO, fmt.Sprintf("read %s", s.path), err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]types.DeviceConfig{}, nil
	}

	data, err := s.toJSON(raw)
	if err != nil {
		return nil, types.NewError(types.KindConfiguration, fmt.Sprintf("parse %s", s.path), err)
	}

	migrated, legacy, err := MigrateLegacy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	if legacy {
		if err := s.migrate(raw, migrated); err != nil {
			return nil, err
		}
		return migrated, nil
	}

	var doc registryFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.NewError(types.KindConfiguration, fmt.Sprintf("parse %s", s.path), err)
	}

	devices := make(map[string]types.DeviceConfig, len(doc.Devices))
	for id, cfg := range doc.Devices {
		cfg.ID = id
		devices[id] = cfg
	}
	return devices, nil
}

func (s *FileStore) migrate(original []byte, devices map[string]types.DeviceConfig) error {
	backup := s.path + ".legacy.bak"
	if err := os.WriteFile(backup, original, 0o644); err != nil {
		return types.NewError(types.KindIO, fmt.Sprintf("write backup %s", backup), err)
	}
	if err := s.write(devices); err != nil {
		return err
	}
	s.logger.Info("Migrated legacy device registry",
		zap.String("path", s.path),
		zap.String("backup", backup),
		zap.Int("devices", len(devices)))
	return nil
}

// Save replaces the file contents atomically.
func (s *FileStore) Save(ctx context.Context, devices map[string]types.DeviceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(devices)
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) write(devices map[string]types.DeviceConfig) error {
	data, err := s.encode(devices)
	if err != nil {
		return types.NewError(types.KindConfiguration, "encode device registry", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return types.NewError(types.KindIO, fmt.Sprintf("write %s", s.path), err)
	}
	return nil
}

func (s *FileStore) encode(devices map[string]types.DeviceConfig) ([]byte, error) {
	if devices == nil {
		devices = map[string]types.DeviceConfig{}
	}
	data, err := json.MarshalIndent(registryFile{Devices: devices}, "", "  ")
	if err != nil {
		return nil, err
	}
	if !s.yaml {
		return append(data, '\n'), nil
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

// toJSON normalizes YAML input so one decoder serves both formats.
func (s *FileStore) toJSON(raw []byte) ([]byte, error) {
	if !s.yaml {
		return raw, nil
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
