package mongo

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNormalizeDocumentFlattensBSONShapes(t *testing.T) {
	oid, _ := primitive.ObjectIDFromHex("65f1c0ffee0000000000aaaa")
	created := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	price, _ := primitive.ParseDecimal128("120.50")

	doc := NormalizeDocument(bson.M{
		"providerId": oid,
		"createdAt":  primitive.NewDateTimeFromTime(created),
		"total":      price,
		"vehicle":    bson.D{{Key: "plate", Value: "B 1234 XY"}},
		"items": bson.A{
			bson.M{"name": "Oil change", "price": 45.5},
			bson.D{{Key: "name", Value: "Filter"}},
		},
	})

	if doc["providerId"] != oid {
		t.Fatalf("expected object id preserved, got %#v", doc["providerId"])
	}
	if got, ok := doc["createdAt"].(time.Time); !ok || !got.Equal(created) {
		t.Fatalf("expected time.Time, got %#v", doc["createdAt"])
	}
	if doc["total"] != "120.50" {
		t.Fatalf("expected decimal string, got %#v", doc["total"])
	}
	vehicle, ok := doc["vehicle"].(map[string]any)
	if !ok || vehicle["plate"] != "B 1234 XY" {
		t.Fatalf("expected nested map, got %#v", doc["vehicle"])
	}
	items, ok := doc["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected items slice, got %#v", doc["items"])
	}
	if second, ok := items[1].(map[string]any); !ok || second["name"] != "Filter" {
		t.Fatalf("expected ordered document converted to map, got %#v", items[1])
	}
}

func TestDocumentIDAndCandidates(t *testing.T) {
	if _, ok := DocumentID("65f1c0ffee0000000000aaaa").(primitive.ObjectID); !ok {
		t.Fatalf("expected object id for canonical hex")
	}
	if got := DocumentID("legacy-42"); got != "legacy-42" {
		t.Fatalf("expected raw string id, got %#v", got)
	}

	candidates := IDCandidates("65f1c0ffee0000000000aaaa", "65f1c0ffee0000000000aaaa", "", "legacy")
	if len(candidates) != 3 {
		t.Fatalf("expected hex, object id and legacy candidates, got %#v", candidates)
	}
	if _, ok := candidates[1].(primitive.ObjectID); !ok {
		t.Fatalf("expected object id candidate, got %#v", candidates[1])
	}
}
