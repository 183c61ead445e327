package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// key layout:
// s   = session
// i   = item metadata
// b   = item blob
// <user> is hex sha256 of the user id; <seq> is 16 hex digits so keys sort
// in creation order.
const (
	sessionKey = "s:%s"    // s:<token>
	itemKey    = "i:%s:%s" // i:<user>:<seq>
	blobKey    = "b:%s:%s" // b:<user>:<seq>
	seqKey     = "sys:seq"

	sessionPrefix = "s:"
	itemPrefix    = "i:"
)

// UserHash is the storage name of a user id.
func UserHash(user string) string {
	sum := sha256.Sum256([]byte(user))
	return hex.EncodeToString(sum[:])
}

// FormatID renders a sequence number as an item id.
func FormatID(seq uint64) string { return fmt.Sprintf("%016x", seq) }

// ParseID is the inverse of FormatID.
func ParseID(id string) (uint64, error) {
	if len(id) != 16 {
		return 0, fmt.Errorf("invalid item id %q", id)
	}
	return strconv.ParseUint(id, 16, 64)
}

func genItemKey(userHash, id string) string { return fmt.Sprintf(itemKey, userHash, id) }
func genBlobKey(userHash, id string) string { return fmt.Sprintf(blobKey, userHash, id) }
func genSessionKey(token string) string     { return fmt.Sprintf(sessionKey, token) }

func genItemPrefix(userHash string) string { return itemPrefix + userHash + ":" }

// parseItemKey splits i:<user>:<seq>.
func parseItemKey(k string) (userHash, id string, err error) {
	parts := strings.Split(k, ":")
	if len(parts) != 3 || parts[0] != "i" {
		return "", "", fmt.Errorf("invalid item key %q", k)
	}
	return parts[1], parts[2], nil
}
