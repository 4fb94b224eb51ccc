package badger

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// Key prefixes for different data types
const (
	chunkPrefix    = "chunk:"
	memoryPrefix   = "mem:"
	providerPrefix = "prov:"

	// sep terminates variable-length key parts.
	sep = 0x00
)

// validName rejects names that would break key parsing.
func validName(name string) error {
	if name == "" || strings.IndexByte(name, sep) >= 0 {
		return storage.ErrInvalidCollection
	}
	return nil
}

// makeCollectionPrefix generates the prefix shared by every chunk in a collection.
// Format: chunk:collection\x00
func makeCollectionPrefix(collection string) []byte {
	buf := make([]byte, 0, len(chunkPrefix)+len(collection)+1)
	buf = append(buf, chunkPrefix...)
	buf = append(buf, collection...)
	return append(buf, sep)
}

// makeChunkKey generates a key for a chunk by identity.
// Format: chunk:collection\x00identity (8 bytes BigEndian)
func makeChunkKey(collection string, id core.ID) []byte {
	return binary.BigEndian.AppendUint64(makeCollectionPrefix(collection), uint64(id))
}

// collectionFromKey extracts the collection name from a chunk key.
func collectionFromKey(key []byte) string {
	rest := key[len(chunkPrefix):]
	for i, c := range rest {
		if c == sep {
			return string(rest[:i])
		}
	}
	return string(rest)
}

// makeSessionPrefix generates the prefix for a session's memory entries.
// Format: mem:bot\x00session\x00
func makeSessionPrefix(botID, sessionID string) []byte {
	buf := make([]byte, 0, len(memoryPrefix)+len(botID)+len(sessionID)+2)
	buf = append(buf, memoryPrefix...)
	buf = append(buf, botID...)
	buf = append(buf, sep)
	buf = append(buf, sessionID...)
	return append(buf, sep)
}

// makeMemoryKey generates a composite key ordered by creation time.
// Format: mem:bot\x00session\x00timestamp (8 bytes)id (8 bytes)
func makeMemoryKey(botID, sessionID string, createdAt time.Time, id core.ID) []byte {
	buf := makeSessionPrefix(botID, sessionID)
	// BigEndian so lexicographic order is chronological order
	buf = binary.BigEndian.AppendUint64(buf, uint64(createdAt.UnixNano()))
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

// makeProviderKey generates a key for a bot's provider config.
func makeProviderKey(botID string) []byte {
	return []byte(providerPrefix + botID)
}
