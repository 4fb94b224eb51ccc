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


// Package storage provides the storage abstraction layer for ragchat.
//
// This package defines repository interfaces that decouple storage implementation
// from business logic. The pipeline keeps three kinds of durable state here:
// embedded document chunks grouped into per-tenant collections, long-term
// visitor memory and tenant provider configurations. Short-lived shared state
// (queues, progress snapshots, key cooldowns) lives in Redis instead.
//
// # Constructor Return Type Pattern
//
// Public constructors return interfaces:
//
//	chunks, err := badger.NewChunkRepository(backend)  // returns storage.ChunkRepository
//
// Internal package constructors (newChunkRepository, etc.) may return
// concrete types since they're only used within the implementation package.
//
// # Architecture
//
//   - Repository: Transactions and lifecycle shared by all repositories
//   - ChunkRepository: Chunk collections and vector similarity search
//   - MemoryRepository: Visitor memory per (bot, session)
//   - ProviderRepository: Tenant provider configurations
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	chunks, err := badger.NewChunkRepository(backend)
//
// Use in tests with in-memory storage:
//
//	repos, err := badger.NewMemoryRepositories()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repos.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support. Pass context.Background() for operations
// without specific timeout requirements.
package storage
