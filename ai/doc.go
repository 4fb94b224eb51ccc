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


// Package ai provides abstractions for the model services used by the chat
// pipeline.
//
// Platform services (embeddings, reflection and cross-encoder rerank) are
// configured once through Config and exposed by an AIProvider. Tenant chat
// models are different: every bot brings its own provider and API keys, so
// they are built per call through a ChatModelFactory after a key has been
// selected.
//
// # Interfaces
//
//   - Embedder: Generates vector embeddings from text
//   - Reflector: Detects language and intent and decides whether retrieval is needed
//   - CrossEncoder: Scores (query, text) pairs for reranking
//   - ChatModel: Produces completions with token usage
//   - Summarizer: Condenses visitor memory
//   - AIProvider: Aggregates the platform services
//
// # Implementation Packages
//
//   - ai/openai: Production implementations over langchaingo, go-openai and
//     TEI-compatible rerank servers
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, etc.) return
// INTERFACE types. Mock constructors return CONCRETE types so tests can inject
// behavior and inspect call counts.
//
//	provider, err := openai.NewProvider(ai.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	reflection, err := provider.Reflector().Reflect(ctx, task)
package ai
