// Package objectid resolves the identifier shapes produced by document store drivers and
// JSON clients into the canonical 24 character lower-case hex form.
package objectid

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/firestore"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInvalid reports an identifier that does not resolve to the canonical shape.
var ErrInvalid = errors.New("objectid: invalid identifier")

// wrapperKeys lists the sub-fields consulted on wrapped reference objects, in priority order.
var wrapperKeys = []string{"$oid", "_id", "id"}

const maxWrapDepth = 4

// Normalize resolves v into its canonical identifier.
func Normalize(v any) (string, error) {
	raw, err := resolve(v, 0)
	if err != nil {
		return "", err
	}
	oid, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalid, truncate(raw))
	}
	return oid.Hex(), nil
}

// NormalizeOrRaw returns the canonical identifier when v resolves, otherwise the trimmed
// raw string form of v. The boolean reports whether canonicalisation succeeded.
func NormalizeOrRaw(v any) (string, bool) {
	if id, err := Normalize(v); err == nil {
		return id, true
	}
	raw, err := resolve(v, 0)
	if err != nil {
		return "", false
	}
	return raw, false
}

// Valid reports whether v resolves to a canonical identifier.
func Valid(v any) bool {
	_, err := Normalize(v)
	return err == nil
}

// New returns a freshly generated canonical identifier.
func New() string {
	return primitive.NewObjectID().Hex()
}

// ObjectID converts a canonical identifier back into the native driver reference.
func ObjectID(id string) (primitive.ObjectID, error) {
	canonical, err := Normalize(id)
	if err != nil {
		return primitive.NilObjectID, err
	}
	return primitive.ObjectIDFromHex(canonical)
}

func resolve(v any, depth int) (string, error) {
	if depth > maxWrapDepth {
		return "", fmt.Errorf("%w: reference nested too deeply", ErrInvalid)
	}
	switch value := v.(type) {
	case nil:
		return "", fmt.Errorf("%w: missing", ErrInvalid)
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return "", fmt.Errorf("%w: empty", ErrInvalid)
		}
		return trimmed, nil
	case primitive.ObjectID:
		if value.IsZero() {
			return "", fmt.Errorf("%w: zero object id", ErrInvalid)
		}
		return value.Hex(), nil
	case *primitive.ObjectID:
		if value == nil {
			return "", fmt.Errorf("%w: missing", ErrInvalid)
		}
		return resolve(*value, depth)
	case *firestore.DocumentRef:
		if value == nil {
			return "", fmt.Errorf("%w: missing", ErrInvalid)
		}
		return resolve(value.ID, depth)
	case map[string]any:
		for _, key := range wrapperKeys {
			if inner, ok := value[key]; ok {
				return resolve(inner, depth+1)
			}
		}
		return "", fmt.Errorf("%w: object carries no identifier field", ErrInvalid)
	case primitive.M:
		return resolve(map[string]any(value), depth)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return resolve(decoded, depth+1)
	case []byte:
		return resolve(string(value), depth)
	case fmt.Stringer:
		return resolve(value.String(), depth)
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrInvalid, v)
	}
}

func truncate(value string) string {
	const limit = 64
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
