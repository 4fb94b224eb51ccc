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


package badger

import "github.com/poiesic/ragchat/storage"

// Repositories groups the repositories sharing one backend.
type Repositories struct {
	Chunks    storage.ChunkRepository
	Memories  storage.MemoryRepository
	Providers storage.ProviderRepository
	Backend   *Backend
}

// NewRepositories creates every repository on backend.
func NewRepositories(backend *Backend) (*Repositories, error) {
	chunks, err := NewChunkRepository(backend)
	if err != nil {
		return nil, err
	}
	memories, err := NewMemoryRepository(backend)
	if err != nil {
		return nil, err
	}
	providers, err := NewProviderRepository(backend)
	if err != nil {
		return nil, err
	}
	return &Repositories{
		Chunks:    chunks,
		Memories:  memories,
		Providers: providers,
		Backend:   backend,
	}, nil
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must Close the result when done.
func NewMemoryRepositories() (*Repositories, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	repos, err := NewRepositories(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return repos, nil
}

// Close closes the repositories and then the backend.
func (r *Repositories) Close() error {
	r.Chunks.Close()
	r.Memories.Close()
	r.Providers.Close()
	return r.Backend.Close()
}
