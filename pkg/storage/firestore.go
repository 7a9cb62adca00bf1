package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/nightwatt/nightwatt/pkg/log"
	"github.com/nightwatt/nightwatt/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. The state blob and history records are stored as JSON strings
// so the schema lives entirely in this package.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	root      string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	root := lflag.String("firestore-root", "nightwatt", "root document holding all data")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.root = *root

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.root == "" {
		return fmt.Errorf("firestore-root is required")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection("installs").Doc(f.root).Collection(name)
}

// LoadState retrieves the state blob from the "config/state" document.
func (f *FirestoreProvider) LoadState(ctx context.Context) (types.PersistedState, error) {
	doc, err := f.collection("config").Doc("state").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// nothing saved yet, start fresh
			return types.PersistedState{}, nil
		}
		return types.PersistedState{}, fmt.Errorf("failed to fetch state doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "state doc missing json")
		return types.PersistedState{}, fmt.Errorf("state document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "state doc json not string")
		return types.PersistedState{}, fmt.Errorf("state 'json' field is not a string")
	}

	var s types.PersistedState
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal state json", slog.Any("err", err))
		return types.PersistedState{}, fmt.Errorf("failed to unmarshal state json: %w", err)
	}
	return s, nil
}

// SaveState saves the state blob to the "config/state" document.
// It stores the state as a JSON string for portability.
func (f *FirestoreProvider) SaveState(ctx context.Context, state types.PersistedState) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = f.collection("config").Doc("state").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": state.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// InsertSession adds a sealed charge session to the "session_history"
// collection as a JSON blob. The document ID is the RFC3339 start time for
// efficient range queries.
func (f *FirestoreProvider) InsertSession(ctx context.Context, session types.ChargeSession) error {
	if session.StartTime.IsZero() {
		return fmt.Errorf("session missing start time")
	}
	jsonBytes, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	coll := f.collection("session_history")
	docID := session.StartTime.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": session.StartTime,
	})
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSessionHistory retrieves charge sessions within the specified time range.
// Uses document ID range queries for efficient filtering without reading all documents.
func (f *FirestoreProvider) GetSessionHistory(ctx context.Context, start, end time.Time) ([]types.ChargeSession, error) {
	coll := f.collection("session_history")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var sessions []types.ChargeSession
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating sessions: %w", err)
		}

		var s types.ChargeSession
		if err := unmarshalDoc(ctx, doc, &s); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// InsertPlan adds or replaces the plan for its calendar day in the
// "plan_history" collection. Replanning the same day overwrites the
// earlier plan.
func (f *FirestoreProvider) InsertPlan(ctx context.Context, plan types.Plan) error {
	if plan.Date == "" {
		return fmt.Errorf("plan missing date")
	}
	jsonBytes, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	_, err = f.collection("plan_history").Doc(plan.Date).Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
		"date": plan.Date,
	})
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

// GetPlanHistory retrieves plans within the specified date range, end
// exclusive. Dates are YYYY-MM-DD so document ID ordering is date ordering.
func (f *FirestoreProvider) GetPlanHistory(ctx context.Context, startDate, endDate string) ([]types.Plan, error) {
	coll := f.collection("plan_history")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDate)).
		Where(firestore.DocumentID, "<", coll.Doc(endDate)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var plans []types.Plan
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating plans: %w", err)
		}

		var p types.Plan
		if err := unmarshalDoc(ctx, doc, &p); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// unmarshalDoc decodes the "json" field of a document into v.
func unmarshalDoc(ctx context.Context, doc *firestore.DocumentSnapshot, v interface{}) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("document %s 'json' field is not string", doc.Ref.ID)
	}

	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document (id=%s): %w", doc.Ref.ID, err)
	}
	return nil
}
