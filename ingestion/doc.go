// Package ingestion seeds tenant collections with embedded document chunks.
//
// Chunks arrive already split by the external document ingestion service.
// The Pipeline embeds the ones that carry no vector, normalizes every vector
// and stores the chunks, processing batches concurrently on a worker pool.
package ingestion
