package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OpenMongo connects to TEST_MONGO_URI and returns a fresh database that is
// dropped on cleanup. The test is skipped when TEST_MONGO_URI is unset.
func OpenMongo(t *testing.T, prefix string) *mongo.Database {
	t.Helper()

	uri := strings.TrimSpace(os.Getenv("TEST_MONGO_URI"))
	if uri == "" {
		t.Skip("MongoDB test URI not set: export TEST_MONGO_URI to run backend tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	if err := client.Ping(ctx, nil); err != nil {
		t.Fatalf("ping mongo: %v", err)
	}

	db := client.Database(newSchemaName(prefix))
	t.Cleanup(func() { _ = db.Drop(context.Background()) })
	return db
}
