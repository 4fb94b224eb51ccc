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


// Package search retrieves document chunks from tenant-scoped collections.
//
// Searcher embeds the visitor query and ranks a collection's chunks by
// vector similarity. In two-stage mode it runs a broad search for the
// original query and for the refined query concurrently, narrows each
// candidate set with a Narrower (normally the cross-encoder reranker), and
// merges the narrowed sets by chunk identity.
//
// TopScore and Confident implement the retrieval-confidence gate used to
// skip generation when nothing relevant was found.
package search
