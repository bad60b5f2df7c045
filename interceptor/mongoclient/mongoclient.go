// Package mongoclient intercepts mongo-driver collection operations. Wrap a
// collection and every find, insert, update, delete, count, or aggregate
// routed through it is recorded into the active session, or answered from
// the cassette during replay. Mock builds a collection with no server behind
// it for replay runs where the database is unavailable.
package mongoclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/policy"
	"github.com/retracehq/retrace/pkg/replay"
	"github.com/retracehq/retrace/pkg/session"
)

// Tag identifies this interceptor in hybrid mock/live lists.
const Tag = "mongo"

const library = "mongo-driver"

// errNoDocumentsType marks a recorded empty find_one so replayed lookups
// miss exactly the way the live ones did.
const errNoDocumentsType = "mongo.ErrNoDocuments"

// ErrNoLiveCollection is returned when a call falls through to a live
// operation but the collection was built with Mock.
var ErrNoLiveCollection = errors.New("retrace: no live database behind mock collection")

// driverCollection is the slice of *mongo.Collection the interceptor needs.
// The real type satisfies it; tests substitute a fake.
type driverCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Collection fronts a mongo collection with record/replay dispatch. Calls
// outside a session pass through untouched.
type Collection struct {
	coll driverCollection
	db   string
	name string

	// MaxBodyKB caps stored result size. 0 means 64.
	MaxBodyKB int
}

// Wrap fronts a real collection for live use and recording.
func Wrap(coll *mongo.Collection) *Collection {
	return &Collection{coll: coll, db: coll.Database().Name(), name: coll.Name()}
}

// Mock builds a collection with no server behind it, for replay runs. Any
// call that is not served from the cassette fails with ErrNoLiveCollection.
func Mock(db, name string) *Collection {
	return &Collection{db: db, name: name}
}

func (c *Collection) maxKB() int {
	if c.MaxBodyKB > 0 {
		return c.MaxBodyKB
	}
	return 64
}

// FindOne records or replays a single-document lookup. An empty result
// round-trips as mongo.ErrNoDocuments.
func (c *Collection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	sig := c.signatureFor("find_one", filter, nil)

	if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
		start := time.Now()
		res := c.liveFindOne(ctx, filter, opts...)
		raw, err := res.Raw()
		durationMS := since(start)

		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			appendEvent(rec, sig, cassette.Result{Error: &cassette.ErrorInfo{Type: errNoDocumentsType, Message: err.Error()}}, durationMS)
			return noDocuments()
		case err != nil:
			appendError(rec, sig, err, durationMS)
			return mongo.NewSingleResultFromDocument(bson.D{}, err, nil)
		}
		appendEvent(rec, sig, cassette.Result{Status: 200, Body: c.snapshot(raw)}, durationMS)
		return mongo.NewSingleResultFromDocument(raw, nil, nil)
	}

	if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
		body, err := replayBody(rep, sig)
		if err != nil {
			if errors.Is(err, replay.ErrNoRecording) && c.coll != nil {
				return c.coll.FindOne(ctx, filter, opts...)
			}
			if errors.Is(err, mongo.ErrNoDocuments) {
				return noDocuments()
			}
			return mongo.NewSingleResultFromDocument(bson.D{}, err, nil)
		}
		var doc bson.D
		if derr := bson.UnmarshalExtJSON(body, true, &doc); derr != nil {
			return mongo.NewSingleResultFromDocument(bson.D{}, decodeErr("find_one", derr), nil)
		}
		return mongo.NewSingleResultFromDocument(doc, nil, nil)
	}

	return c.liveFindOne(ctx, filter, opts...)
}

func (c *Collection) liveFindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	if c.coll == nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, ErrNoLiveCollection, nil)
	}
	return c.coll.FindOne(ctx, filter, opts...)
}

// Find records the drained result set and re-serves it, so both the caller
// and the cassette see every document.
func (c *Collection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	return c.cursorOp(ctx, c.signatureFor("find", filter, nil), func(ctx context.Context) (*mongo.Cursor, error) {
		if c.coll == nil {
			return nil, ErrNoLiveCollection
		}
		return c.coll.Find(ctx, filter, opts...)
	})
}

// Aggregate treats the pipeline as the call body; stage documents with
// different parameter values produce different signatures.
func (c *Collection) Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error) {
	sig := c.signatureFor("aggregate", bson.D{{Key: "pipeline", Value: pipeline}}, nil)
	return c.cursorOp(ctx, sig, func(ctx context.Context) (*mongo.Cursor, error) {
		if c.coll == nil {
			return nil, ErrNoLiveCollection
		}
		return c.coll.Aggregate(ctx, pipeline, opts...)
	})
}

type docsPayload struct {
	Docs []bson.D `bson:"docs"`
}

func (c *Collection) cursorOp(ctx context.Context, sig cassette.Signature, live func(context.Context) (*mongo.Cursor, error)) (*mongo.Cursor, error) {
	if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
		start := time.Now()
		cur, err := live(ctx)
		if err != nil {
			appendError(rec, sig, err, since(start))
			return nil, err
		}
		var docs []bson.D
		if err := cur.All(ctx, &docs); err != nil {
			appendError(rec, sig, err, since(start))
			return nil, err
		}
		durationMS := since(start)
		appendEvent(rec, sig, cassette.Result{Status: 200, Body: c.snapshot(docsPayload{Docs: docs})}, durationMS)
		return mongo.NewCursorFromDocuments(docsToAny(docs), nil, nil)
	}

	if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
		body, err := replayBody(rep, sig)
		if err != nil {
			if errors.Is(err, replay.ErrNoRecording) && c.coll != nil {
				return live(ctx)
			}
			return nil, err
		}
		var p docsPayload
		if derr := bson.UnmarshalExtJSON(body, true, &p); derr != nil {
			return nil, decodeErr(sig.Operation, derr)
		}
		return mongo.NewCursorFromDocuments(docsToAny(p.Docs), nil, nil)
	}

	return live(ctx)
}

type insertOnePayload struct {
	InsertedID interface{} `bson:"inserted_id"`
}

// InsertOne records or replays a single-document insert.
func (c *Collection) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	sig := c.signatureFor("insert_one", nil, document)

	if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
		start := time.Now()
		res, err := c.liveInsertOne(ctx, document, opts...)
		durationMS := since(start)
		if err != nil {
			appendError(rec, sig, err, durationMS)
			return nil, err
		}
		appendEvent(rec, sig, cassette.Result{Status: 200, Body: c.snapshot(insertOnePayload{InsertedID: res.InsertedID})}, durationMS)
		return res, nil
	}

	if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
		body, err := replayBody(rep, sig)
		if err != nil {
			if errors.Is(err, replay.ErrNoRecording) && c.coll != nil {
				return c.coll.InsertOne(ctx, document, opts...)
			}
			return nil, err
		}
		var p insertOnePayload
		if derr := bson.UnmarshalExtJSON(body, true, &p); derr != nil {
			return nil, decodeErr("insert_one", derr)
		}
		return &mongo.InsertOneResult{InsertedID: p.InsertedID}, nil
	}

	return c.liveInsertOne(ctx, document, opts...)
}

func (c *Collection) liveInsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if c.coll == nil {
		return nil, ErrNoLiveCollection
	}
	return c.coll.InsertOne(ctx, document, opts...)
}

type insertManyPayload struct {
	InsertedIDs []interface{} `bson:"inserted_ids"`
}

// InsertMany records or replays a batch insert.
func (c *Collection) InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	sig := c.signatureFor("insert_many", nil, bson.D{{Key: "documents", Value: documents}})

	if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
		start := time.Now()
		res, err := c.liveInsertMany(ctx, documents, opts...)
		durationMS := since(start)
		if err != nil {
			appendError(rec, sig, err, durationMS)
			return nil, err
		}
		appendEvent(rec, sig, cassette.Result{Status: 200, Body: c.snapshot(insertManyPayload{InsertedIDs: res.InsertedIDs})}, durationMS)
		return res, nil
	}

	if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
		body, err := replayBody(rep, sig)
		if err != nil {
			if errors.Is(err, replay.ErrNoRecording) && c.coll != nil {
				return c.coll.InsertMany(ctx, documents, opts...)
			}
			return nil, err
		}
		var p insertManyPayload
		if derr := bson.UnmarshalExtJSON(body, true, &p); derr != nil {
			return nil, decodeErr("insert_many", derr)
		}
		return &mongo.InsertManyResult{InsertedIDs: p.InsertedIDs}, nil
	}

	return c.liveInsertMany(ctx, documents, opts...)
}

func (c *Collection) liveInsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	if c.coll == nil {
		return nil, ErrNoLiveCollection
	}
	return c.coll.InsertMany(ctx, documents, opts...)
}

type updatePayload struct {
	MatchedCount  int64       `bson:"matched_count"`
	ModifiedCount int64       `bson:"modified_count"`
	UpsertedCount int64       `bson:"upserted_count"`
	UpsertedID    interface{} `bson:"upserted_id,omitempty"`
}

// UpdateOne records or replays a single-document update.
func (c *Collection) UpdateOne(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.updateOp(ctx, "update_one", filter, update, func(ctx context.Context) (*mongo.UpdateResult, error) {
		if c.coll == nil {
			return nil, ErrNoLiveCollection
		}
		return c.coll.UpdateOne(ctx, filter, update, opts...)
	})
}

// UpdateMany records or replays a multi-document update.
func (c *Collection) UpdateMany(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.updateOp(ctx, "update_many", filter, update, func(ctx context.Context) (*mongo.UpdateResult, error) {
		if c.coll == nil {
			return nil, ErrNoLiveCollection
		}
		return c.coll.UpdateMany(ctx, filter, update, opts...)
	})
}

func (c *Collection) updateOp(ctx context.Context, op string, filter, update interface{}, live func(context.Context) (*mongo.UpdateResult, error)) (*mongo.UpdateResult, error) {
	sig := c.signatureFor(op, filter, update)

	if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
		start := time.Now()
		res, err := live(ctx)
		durationMS := since(start)
		if err != nil {
			appendError(rec, sig, err, durationMS)
			return nil, err
		}
		payload := updatePayload{
			MatchedCount:  res.MatchedCount,
			ModifiedCount: res.ModifiedCount,
			UpsertedCount: res.UpsertedCount,
			UpsertedID:    res.UpsertedID,
		}
		appendEvent(rec, sig, cassette.Result{Status: 200, Body: c.snapshot(payload)}, durationMS)
		return res, nil
	}

	if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
		body, err := replayBody(rep, sig)
		if err != nil {
			if errors.Is(err, replay.ErrNoRecording) && c.coll != nil {
				return live(ctx)
			}
			return nil, err
		}
		var p updatePayload
		if derr := bson.UnmarshalExtJSON(body, true, &p); derr != nil {
			return nil, decodeErr(op, derr)
		}
		return &mongo.UpdateResult{
			MatchedCount:  p.MatchedCount,
			ModifiedCount: p.ModifiedCount,
			UpsertedCount: p.UpsertedCount,
			UpsertedID:    p.UpsertedID,
		}, nil
	}

	return live(ctx)
}

type deletePayload struct {
	DeletedCount int64 `bson:"deleted_count"`
}

// DeleteOne records or replays a single-document delete.
func (c *Collection) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return c.deleteOp(ctx, "delete_one", filter, func(ctx context.Context) (*mongo.DeleteResult, error) {
		if c.coll == nil {
			return nil, ErrNoLiveCollection
		}
		return c.coll.DeleteOne(ctx, filter, opts...)
	})
}

// DeleteMany records or replays a multi-document delete.
func (c *Collection) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return c.deleteOp(ctx, "delete_many", filter, func(ctx context.Context) (*mongo.DeleteResult, error) {
		if c.coll == nil {
			return nil, ErrNoLiveCollection
		}
		return c.coll.DeleteMany(ctx, filter, opts...)
	})
}

func (c *Collection) deleteOp(ctx context.Context, op string, filter interface{}, live func(context.Context) (*mongo.DeleteResult, error)) (*mongo.DeleteResult, error) {
	sig := c.signatureFor(op, filter, nil)

	if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
		start := time.Now()
		res, err := live(ctx)
		durationMS := since(start)
		if err != nil {
			appendError(rec, sig, err, durationMS)
			return nil, err
		}
		appendEvent(rec, sig, cassette.Result{Status: 200, Body: c.snapshot(deletePayload{DeletedCount: res.DeletedCount})}, durationMS)
		return res, nil
	}

	if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
		body, err := replayBody(rep, sig)
		if err != nil {
			if errors.Is(err, replay.ErrNoRecording) && c.coll != nil {
				return live(ctx)
			}
			return nil, err
		}
		var p deletePayload
		if derr := bson.UnmarshalExtJSON(body, true, &p); derr != nil {
			return nil, decodeErr(op, derr)
		}
		return &mongo.DeleteResult{DeletedCount: p.DeletedCount}, nil
	}

	return live(ctx)
}

type countPayload struct {
	Count int64 `bson:"count"`
}

// CountDocuments records or replays a count.
func (c *Collection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	sig := c.signatureFor("count_documents", filter, nil)

	if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
		start := time.Now()
		n, err := c.liveCount(ctx, filter, opts...)
		durationMS := since(start)
		if err != nil {
			appendError(rec, sig, err, durationMS)
			return 0, err
		}
		appendEvent(rec, sig, cassette.Result{Status: 200, Body: c.snapshot(countPayload{Count: n})}, durationMS)
		return n, nil
	}

	if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
		body, err := replayBody(rep, sig)
		if err != nil {
			if errors.Is(err, replay.ErrNoRecording) && c.coll != nil {
				return c.coll.CountDocuments(ctx, filter, opts...)
			}
			return 0, err
		}
		var p countPayload
		if derr := bson.UnmarshalExtJSON(body, true, &p); derr != nil {
			return 0, decodeErr("count_documents", derr)
		}
		return p.Count, nil
	}

	return c.liveCount(ctx, filter, opts...)
}

func (c *Collection) liveCount(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	if c.coll == nil {
		return 0, ErrNoLiveCollection
	}
	return c.coll.CountDocuments(ctx, filter, opts...)
}

// signatureFor derives the replay signature: db.collection as the target,
// sorted filter keys as the query fingerprint, and the hash of the
// canonicalized filter and update documents as the body hash.
func (c *Collection) signatureFor(op string, filter, update interface{}) cassette.Signature {
	sig := cassette.NewSignature(library, op, c.db+"."+c.name)

	fdoc := rawDoc(filter)
	sig.Query = filterKeys(fdoc)

	var body []byte
	if fb := canonicalDoc(fdoc); fb != nil {
		body = append(body, fb...)
	}
	if ub := canonicalDoc(rawDoc(update)); ub != nil {
		body = append(body, ub...)
	}
	if body != nil {
		sig.BodyHash = cassette.HashBody(body)
	}
	return sig
}

// rawDoc marshals a filter or update document. Best effort: a value that
// does not marshal leaves that axis out of the signature, which only loosens
// matching.
func rawDoc(v interface{}) bson.Raw {
	if v == nil {
		return nil
	}
	data, err := bson.Marshal(v)
	if err != nil {
		return nil
	}
	return bson.Raw(data)
}

// filterKeys reduces a filter document to its sorted key names. Values are
// deliberately dropped from the fingerprint; they feed the body hash instead.
func filterKeys(doc bson.Raw) []string {
	if doc == nil {
		return nil
	}
	elems, err := doc.Elements()
	if err != nil || len(elems) == 0 {
		return nil
	}
	keys := make([]string, 0, len(elems))
	for _, el := range elems {
		keys = append(keys, el.Key())
	}
	sort.Strings(keys)
	return keys
}

// canonicalDoc renders a document as sorted key=value lines so map iteration
// order never changes the hash.
func canonicalDoc(doc bson.Raw) []byte {
	if doc == nil {
		return nil
	}
	elems, err := doc.Elements()
	if err != nil {
		return nil
	}
	parts := make([]string, 0, len(elems))
	for _, el := range elems {
		parts = append(parts, el.Key()+"="+el.Value().String())
	}
	sort.Strings(parts)
	return []byte(strings.Join(parts, "&"))
}

// snapshot captures a result payload as canonical extended JSON, so BSON
// types like ObjectID survive the round trip.
func (c *Collection) snapshot(payload interface{}) *cassette.BodySnapshot {
	data, err := bson.MarshalExtJSON(payload, true, false)
	if err != nil {
		return nil
	}
	return policy.SnapshotBody(data, c.maxKB())
}

func appendEvent(rec *session.Recorder, sig cassette.Signature, result cassette.Result, durationMS float64) {
	// A closed session means the request already finalized; drop the event.
	_, _ = rec.AppendEvent(cassette.EventDBQuery, sig, result, durationMS)
}

func appendError(rec *session.Recorder, sig cassette.Signature, err error, durationMS float64) {
	appendEvent(rec, sig, cassette.Result{Error: &cassette.ErrorInfo{Type: "mongo_error", Message: err.Error()}}, durationMS)
}

// replayBody matches sig against the cassette and returns the recorded
// payload. ErrNoRecording passes through for the caller's live fallback.
func replayBody(rep *session.Replayer, sig cassette.Signature) ([]byte, error) {
	ev, err := rep.Match(sig)
	if err != nil {
		return nil, err
	}
	if ev.Result.Error != nil {
		if ev.Result.Error.Type == errNoDocumentsType {
			return nil, mongo.ErrNoDocuments
		}
		return nil, replay.AsReplayedError(ev.Result.Error)
	}
	return policy.BodyBytes(ev.Result.Body), nil
}

func noDocuments() *mongo.SingleResult {
	return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
}

func docsToAny(docs []bson.D) []interface{} {
	out := make([]interface{}, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out
}

func decodeErr(op string, err error) error {
	return fmt.Errorf("retrace: decoding recorded %s result: %w", op, err)
}

func since(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
