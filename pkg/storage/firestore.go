package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// schemaVersion is stored on every document so readers can tell old layouts
// apart.
const schemaVersion = 1

// FirestoreProvider implements Database using Google Cloud Firestore. Every
// record is stored as a JSON string under sites/{siteID}.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	siteID    string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	siteID := lflag.String("firestore-site-id", "home", "Document under the sites collection that holds this site's data")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.siteID = *siteID

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.siteID == "" {
		return errors.New("firestore-site-id cannot be empty")
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

func (f *FirestoreProvider) site() *firestore.DocumentRef {
	return f.client.Collection("sites").Doc(f.siteID)
}

func (f *FirestoreProvider) readingsCollection(meter types.MeterPoint) (*firestore.CollectionRef, error) {
	if meter.IsZero() {
		return nil, errors.New("meter point cannot be empty")
	}
	return f.site().Collection("meters").Doc(meter.MPAN + "_" + meter.SerialNumber).Collection("readings"), nil
}

func (f *FirestoreProvider) ratesCollection(direction types.Direction) *firestore.CollectionRef {
	return f.site().Collection("tariffs").Doc(string(direction)).Collection("rates")
}

func docID(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// upsertAll writes every document with a BulkWriter and returns the first
// failure.
func (f *FirestoreProvider) upsertAll(ctx context.Context, docs map[*firestore.DocumentRef]map[string]any) error {
	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for ref, data := range docs {
		job, err := bw.Set(ref, data)
		if err != nil {
			bw.End()
			return err
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return err
		}
	}
	return nil
}

// decodeJSON reads the "json" field of doc into dest.
func decodeJSON(ctx context.Context, doc *firestore.DocumentSnapshot, dest any) error {
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
	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document (id=%s): %w", doc.Ref.ID, err)
	}
	return nil
}

// queryRange iterates the documents of coll whose RFC3339 id is within
// [start, end) and decodes each one with fn.
func queryRange(ctx context.Context, coll *firestore.CollectionRef, start, end time.Time, fn func(doc *firestore.DocumentSnapshot) error) error {
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(docID(start))).
		Where(firestore.DocumentID, "<", coll.Doc(docID(end))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error iterating %s: %w", coll.ID, err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
}

// UpsertMeterReadings adds or updates readings keyed by their start time.
func (f *FirestoreProvider) UpsertMeterReadings(ctx context.Context, meter types.MeterPoint, readings []types.MeterReading) error {
	coll, err := f.readingsCollection(meter)
	if err != nil {
		return err
	}
	docs := make(map[*firestore.DocumentRef]map[string]any, len(readings))
	for _, r := range readings {
		if r.From.IsZero() {
			return errors.New("meter reading missing tsStart")
		}
		jsonBytes, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal meter reading: %w", err)
		}
		docs[coll.Doc(docID(r.From))] = map[string]any{
			"json":      string(jsonBytes),
			"timestamp": r.From,
			"version":   schemaVersion,
		}
	}
	if err := f.upsertAll(ctx, docs); err != nil {
		return fmt.Errorf("failed to upsert meter readings: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "stored meter readings", slog.String("meter", meter.String()), slog.Int("count", len(readings)))
	return nil
}

// GetMeterReadings retrieves readings that start within [start, end).
func (f *FirestoreProvider) GetMeterReadings(ctx context.Context, meter types.MeterPoint, start, end time.Time) ([]types.MeterReading, error) {
	coll, err := f.readingsCollection(meter)
	if err != nil {
		return nil, err
	}
	var readings []types.MeterReading
	err = queryRange(ctx, coll, start, end, func(doc *firestore.DocumentSnapshot) error {
		var r types.MeterReading
		if err := decodeJSON(ctx, doc, &r); err != nil {
			return err
		}
		readings = append(readings, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return readings, nil
}

// UpsertRates adds or updates rates keyed by their start time.
func (f *FirestoreProvider) UpsertRates(ctx context.Context, direction types.Direction, rates []types.Rate) error {
	coll := f.ratesCollection(direction)
	docs := make(map[*firestore.DocumentRef]map[string]any, len(rates))
	for _, r := range rates {
		if r.ValidFrom.IsZero() {
			return errors.New("rate missing tsStart")
		}
		jsonBytes, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal rate: %w", err)
		}
		docs[coll.Doc(docID(r.ValidFrom))] = map[string]any{
			"json":      string(jsonBytes),
			"timestamp": r.ValidFrom,
			"version":   schemaVersion,
		}
	}
	if err := f.upsertAll(ctx, docs); err != nil {
		return fmt.Errorf("failed to upsert rates: %w", err)
	}
	return nil
}

// GetRates retrieves the rates valid at any point in [start, end). The rate
// in force at start may have begun earlier, so the latest rate starting
// before start is included when it is still valid.
func (f *FirestoreProvider) GetRates(ctx context.Context, direction types.Direction, start, end time.Time) ([]types.Rate, error) {
	coll := f.ratesCollection(direction)

	var rates []types.Rate
	iter := coll.
		Where(firestore.DocumentID, "<", coll.Doc(docID(start))).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(1).
		Documents(ctx)
	doc, err := iter.Next()
	iter.Stop()
	switch {
	case err == iterator.Done:
	case err != nil:
		return nil, fmt.Errorf("failed to get preceding rate: %w", err)
	default:
		var r types.Rate
		if err := decodeJSON(ctx, doc, &r); err != nil {
			return nil, err
		}
		if r.ValidTo.IsZero() || r.ValidTo.After(start) {
			rates = append(rates, r)
		}
	}

	err = queryRange(ctx, coll, start, end, func(doc *firestore.DocumentSnapshot) error {
		var r types.Rate
		if err := decodeJSON(ctx, doc, &r); err != nil {
			return err
		}
		rates = append(rates, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rates, nil
}

func (f *FirestoreProvider) setWindow(ctx context.Context, name string, start, end time.Time, v any) error {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	_, err = f.site().Collection(name).Doc(docID(start)).Set(ctx, map[string]any{
		"json":      string(jsonBytes),
		"timestamp": start,
		"end":       end,
		"version":   schemaVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", name, err)
	}
	return nil
}

func (f *FirestoreProvider) getWindow(ctx context.Context, name string, start, end time.Time, dest any) (bool, error) {
	doc, err := f.site().Collection(name).Doc(docID(start)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch %s doc: %w", name, err)
	}
	v, err := doc.DataAt("end")
	if err != nil {
		return false, nil
	}
	if storedEnd, ok := v.(time.Time); !ok || !storedEnd.Equal(end) {
		return false, nil
	}
	if err := decodeJSON(ctx, doc, dest); err != nil {
		return false, err
	}
	return true, nil
}

// UpsertEnergyDetails stores the telemetry for [start, end).
func (f *FirestoreProvider) UpsertEnergyDetails(ctx context.Context, start, end time.Time, details types.EnergyDetails) error {
	return f.setWindow(ctx, "energy_details", start, end, details)
}

// GetEnergyDetails retrieves the telemetry stored for exactly [start, end).
func (f *FirestoreProvider) GetEnergyDetails(ctx context.Context, start, end time.Time) (types.EnergyDetails, bool, error) {
	var ed types.EnergyDetails
	ok, err := f.getWindow(ctx, "energy_details", start, end, &ed)
	return ed, ok, err
}

// UpsertBatteryHistory stores the battery telemetry for [start, end).
func (f *FirestoreProvider) UpsertBatteryHistory(ctx context.Context, start, end time.Time, history types.BatteryHistory) error {
	return f.setWindow(ctx, "battery_history", start, end, history)
}

// GetBatteryHistory retrieves the battery telemetry stored for exactly
// [start, end).
func (f *FirestoreProvider) GetBatteryHistory(ctx context.Context, start, end time.Time) (types.BatteryHistory, bool, error) {
	var bh types.BatteryHistory
	ok, err := f.getWindow(ctx, "battery_history", start, end, &bh)
	return bh, ok, err
}
