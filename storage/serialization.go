// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"encoding/json"
	"fmt"

	"github.com/poiesic/ragchat/core"
)

// Marshal serializes a stored record.
func Marshal[T any](v *T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return data, nil
}

// Unmarshal deserializes a stored record.
func Unmarshal[T any](data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrSerializationFailed)
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return v, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) ([]byte, error) {
	return Marshal(chunk)
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	return Unmarshal[core.Chunk](data)
}

// MarshalMemoryEntry serializes a MemoryEntry to bytes.
func MarshalMemoryEntry(entry *core.MemoryEntry) ([]byte, error) {
	return Marshal(entry)
}

// UnmarshalMemoryEntry deserializes a MemoryEntry from bytes.
func UnmarshalMemoryEntry(data []byte) (*core.MemoryEntry, error) {
	return Unmarshal[core.MemoryEntry](data)
}

// MarshalProviderConfig serializes a ProviderConfig to bytes.
func MarshalProviderConfig(cfg *core.ProviderConfig) ([]byte, error) {
	return Marshal(cfg)
}

// UnmarshalProviderConfig deserializes a ProviderConfig from bytes.
func UnmarshalProviderConfig(data []byte) (*core.ProviderConfig, error) {
	return Unmarshal[core.ProviderConfig](data)
}
