package store

import (
	"crypto/rand"
	"encoding/hex"
)

const (
	entryIDPrefix  = "en-"
	promptIDPrefix = "pr-"
	eventIDPrefix  = "ev-"
)

// idGenerator is the function used to generate row IDs. Replaced in tests
// to control ID generation.
var idGenerator = defaultGenerateID

// defaultGenerateID generates a prefixed random ID using crypto/rand.
func defaultGenerateID(prefix string) (string, error) {
	bytes := make([]byte, 4) // 8 hex characters
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(bytes), nil
}

func generateEntryID() (string, error)  { return idGenerator(entryIDPrefix) }
func generatePromptID() (string, error) { return idGenerator(promptIDPrefix) }
func generateEventID() (string, error)  { return idGenerator(eventIDPrefix) }
