// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package provisioner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// EnvStore maps dependency-spec keys to runtime environment names in a JSON
// file under the temp root, so runs in later processes find the runtimes
// built by earlier ones.
type EnvStore struct {
	mu       sync.Mutex
	filepath string
}

func NewEnvStore(dir, name string) *EnvStore {
	return &EnvStore{filepath: filepath.Join(dir, name+".json")}
}

func (s *EnvStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.filepath)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	data := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("parse env store %s: %w", s.filepath, err)
		}
	}
	return data, nil
}

func (s *EnvStore) save(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filepath, raw, 0o644)
}

// Add records or overwrites the environment name for a key.
func (s *EnvStore) Add(key, envName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return err
	}
	data[key] = envName
	return s.save(data)
}

// Get returns the environment name for a key, or "" when unknown.
func (s *EnvStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return "", err
	}
	return data[key], nil
}

// Remove deletes the entry for a key; reports whether it existed.
func (s *EnvStore) Remove(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return false, err
	}
	if _, ok := data[key]; !ok {
		return false, nil
	}
	delete(data, key)
	return true, s.save(data)
}

// Entries returns a copy of the whole mapping.
func (s *EnvStore) Entries() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}
