// Package cursor turns a store continuation key into an opaque token that
// survives a round trip through a query parameter, and back.
//
// Tokens are the key serialized as JSON and then URL-escaped. They are not
// stable across schema changes; clients must never build or parse them.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/oikos-consulting/oikos/docstore"
)

// ErrMalformed is returned for tokens that were not produced by Encode.
var ErrMalformed = errors.New("cursor: malformed token")

// Encode returns the token for key. A nil key encodes to "".
func Encode(key docstore.Key) (string, error) {
	if key == nil {
		return "", nil
	}
	b, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("cursor: encode: %w", err)
	}
	return url.QueryEscape(string(b)), nil
}

// Decode parses a token produced by Encode. An empty token decodes to a nil
// key, meaning "start from the beginning".
//
// Callers may pass either the raw token or one already unescaped once by the
// HTTP layer; both forms decode to the same key.
func Decode(token string) (docstore.Key, error) {
	if token == "" {
		return nil, nil
	}
	raw := token
	if !json.Valid([]byte(raw)) {
		unescaped, err := url.QueryUnescape(token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		raw = unescaped
	}
	var key docstore.Key
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if id, _ := key[docstore.KeyAttr].(string); id == "" {
		return nil, ErrMalformed
	}
	return key, nil
}
