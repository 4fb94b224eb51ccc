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


// Package openai provides AI service implementations using OpenAI-compatible APIs.
//
// Platform services (embeddings, reflection, summaries) talk to an
// OpenAI-compatible server such as Ollama, LocalAI or vLLM through langchaingo.
// Reranking posts to a TEI-compatible /rerank endpoint.
//
// Tenant chat models are built by Factory: "openai" uses go-openai directly,
// "openai-compatible", "ollama" and "anthropic" go through langchaingo. Every
// implementation reports provider rate limits wrapping core.ErrRateLimited so
// the key rotation layer can react.
//
// # Usage
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434"))
//	provider, err := openai.NewProvider(config, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vector, err := provider.Embedder().EmbedText(ctx, "sample text")
//
//	model, err := openai.NewFactory().NewChatModel("openai", "gpt-4o-mini", key, "")
//	completion, err := model.Complete(ctx, messages, ai.CompletionOptions{Temperature: 0.2})
package openai
