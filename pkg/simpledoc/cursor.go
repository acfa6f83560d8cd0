package simpledoc

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// cursorKey is the sort key of the last result on a page plus the
// fingerprint of the query that produced it.
type cursorKey struct {
	Fingerprint string    `json:"f"`
	Score       int       `json:"s"`
	At          int64     `json:"t"`
	ID          uuid.UUID `json:"i"`
}

func encodeCursor(key cursorKey) string {
	raw, _ := json.Marshal(key)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(cursor, fingerprint string) (*cursorKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrStaleCursor)
	}
	var key cursorKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrStaleCursor)
	}
	if key.Fingerprint != fingerprint {
		return nil, fmt.Errorf("%w: cursor belongs to a different query", ErrStaleCursor)
	}
	return &key, nil
}

// queryFingerprint identifies a principal's query independent of paging.
func queryFingerprint(principal Principal, q SearchQuery) string {
	q.Cursor = ""
	q.Limit = 0
	q.FileTypes = NormalizeFileTypes(q.FileTypes)
	q.Tags = NormalizeTags(q.Tags)
	raw, _ := json.Marshal(struct {
		Principal string      `json:"p"`
		Query     SearchQuery `json:"q"`
	}{principal.ID, q})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

func summaryKey(s *DocumentSummary) cursorKey {
	return cursorKey{Score: s.Score, At: s.CurrentVersionAt.UnixNano(), ID: s.ID}
}

// rankLess orders by score descending, then recency descending, then id
// ascending. The id is immutable so the order is total.
func rankLess(a, b cursorKey) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.At != b.At {
		return a.At > b.At
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}
