// ABOUTME: Conversation identity and the store keys derived from it
// ABOUTME: Hashes the chat channel into a short stable key under a scope

package conversation

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// keyBytes is how much of the channel hash goes into a conversation key.
const keyBytes = 6

// ID identifies one conversation: a scope (a deployment or server name) and a
// short hash of the channel or thread the conversation lives in.
type ID struct {
	Scope string
	Key   string
}

// NewID derives the conversation for channel within scope.
func NewID(scope, channel string) ID {
	sum := blake2b.Sum256([]byte(channel))
	return ID{Scope: scope, Key: hex.EncodeToString(sum[:keyBytes])}
}

func (id ID) String() string {
	return fmt.Sprintf("chat:%s:%s", id.Scope, id.Key)
}

func (id ID) lockKey() string     { return id.String() + ":lock" }
func (id ID) messagesKey() string { return id.String() + ":messages" }
func (id ID) systemKey() string   { return id.String() + ":system" }
