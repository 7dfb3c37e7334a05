package utils

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	nanoIdAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

	localPlaceholderLength = 32
)

var localPlaceholderPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func GenerateNanoID() string {
	id, _ := gonanoid.Generate(nanoIdAlphabet, 16)
	return id
}

func GenerateNanoIDWithPrefix(prefix string, length int) string {
	id, _ := gonanoid.Generate(nanoIdAlphabet, length)
	return prefix + "_" + id
}

// GenerateLocalPlaceholderID mints a temporary server identifier for rows
// created locally before the server has assigned a real one. The format is
// fixed-length hex with no separator so it can be told apart from any real
// identifier the protocols produce.
func GenerateLocalPlaceholderID() string {
	buf := make([]byte, localPlaceholderLength/2)
	if _, err := rand.Read(buf); err != nil {
		return GenerateNanoID() + GenerateNanoID()
	}
	return hex.EncodeToString(buf)
}

// IsLocalPlaceholderID reports whether an identifier matches the local
// placeholder format. Some servers echo the client-supplied identifier back
// instead of minting their own; callers use this to detect that case.
func IsLocalPlaceholderID(id string) bool {
	return localPlaceholderPattern.MatchString(id)
}
