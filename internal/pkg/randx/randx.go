/*
Package randx provides functions for generating cryptographically secure random identifiers.

It generates the Base62 user ids handed out by the Session Registry and the UUIDs used for
connection and message identifiers.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// UserIDPrefix is the prefix of every generated user id.
	UserIDPrefix = "user_"

	// UserIDRawLength is the length of the Base62 part of a user id.
	// 62^12 is roughly 2^71 possible ids.
	UserIDRawLength = 12
)

var base62Max = big.NewInt(Base62Len)

// base62 returns n characters drawn uniformly from Base62Chars using crypto/rand.
func base62(n int) (string, error) {
	result := make([]byte, n)

	for i := range n {
		num, err := rand.Int(rand.Reader, base62Max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// UserID generates a new user id of the form "user_" followed by UserIDRawLength Base62 characters.
func UserID() (string, error) {
	raw, err := base62(UserIDRawLength)
	if err != nil {
		return "", err
	}
	return UserIDPrefix + raw, nil
}

// IsValidUserID checks if the given string has the shape produced by UserID.
func IsValidUserID(id string) bool {
	if !strings.HasPrefix(id, UserIDPrefix) {
		return false
	}

	rawID := id[len(UserIDPrefix):]

	if len(rawID) != UserIDRawLength {
		return false
	}

	for _, char := range rawID {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// ConnectionID generates an opaque identifier for a transport connection.
func ConnectionID() string {
	return uuid.NewString()
}

// MessageID generates a standard UUID v4 string to serve as a unique identifier for a message.
func MessageID() string {
	return uuid.New().String()
}
