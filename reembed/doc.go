// Package reembed re-embeds stored chunk collections with a new or updated
// embedding model.
//
// Collections are processed in batches with retry and exponential backoff.
// Vectors are normalized so similarity search keeps using a dot product.
package reembed
