package mongo

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/garage-pos/settlement/internal/platform/objectid"
)

// DocumentID returns the native _id value for id: an ObjectID when id is canonical hex,
// otherwise the string itself.
func DocumentID(id string) any {
	if oid, err := objectid.ObjectID(id); err == nil {
		return oid
	}
	return id
}

// IDCandidates lists the stored shapes a reference field may carry for id, so filters match
// both hex strings and native ObjectIDs.
func IDCandidates(ids ...string) bson.A {
	seen := make(map[string]struct{}, len(ids))
	out := bson.A{}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			out = append(out, oid)
		}
	}
	return out
}

// Normalize converts decoded BSON values into plain Go shapes: documents become maps, arrays
// become slices, dates become time.Time and Decimal128 becomes its string form. ObjectIDs are
// kept so they round-trip on write.
func Normalize(v any) any {
	switch value := v.(type) {
	case bson.M:
		return normalizeMap(value)
	case map[string]any:
		return normalizeMap(value)
	case bson.D:
		out := make(map[string]any, len(value))
		for _, elem := range value {
			out[elem.Key] = Normalize(elem.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = Normalize(item)
		}
		return out
	case primitive.DateTime:
		return value.Time().UTC()
	case primitive.Decimal128:
		return value.String()
	default:
		return v
	}
}

// NormalizeDocument applies Normalize to a decoded top-level document.
func NormalizeDocument(doc bson.M) map[string]any {
	return normalizeMap(doc)
}

func normalizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = Normalize(value)
	}
	return out
}
