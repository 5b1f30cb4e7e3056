package sharding

import (
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strings"
)

// ShardCount is the fixed number of partitions for change subjects.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a given entity ID.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// ChangeSubject returns the subject change batches of a collection are
// published on. Format: app.change.{shard_id}.{path tokens}
func ChangeSubject(collectionPath string) string {
	return fmt.Sprintf("app.change.%d.%s", GetShardID(collectionPath), pathTokens(collectionPath))
}

// ChangeFilter matches ChangeSubject for the path on any shard.
func ChangeFilter(collectionPath string) string {
	return "app.change.*." + pathTokens(collectionPath)
}

// NotifySubject is where reminders for one user are delivered.
func NotifySubject(userID string) string {
	return "app.notify." + subjectToken(userID)
}

func pathTokens(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = subjectToken(seg)
	}
	return strings.Join(segments, ".")
}

// subjectToken hex-encodes tokens NATS would split or treat as wildcards.
func subjectToken(raw string) string {
	if raw == "" {
		return "_"
	}
	if strings.ContainsAny(raw, ".*> \t\r\n") {
		return "x-" + hex.EncodeToString([]byte(raw))
	}
	return raw
}
