package mongoclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/policy"
	"github.com/retracehq/retrace/pkg/replay"
	"github.com/retracehq/retrace/pkg/session"
)

func recordingContext() (*session.Recorder, context.Context) {
	rec := session.BeginRecording(&cassette.RequestSnapshot{Method: "GET", Path: "/"}, session.Options{})
	return rec, session.WithSession(context.Background(), rec)
}

func replayingContext(events []cassette.Event, strict bool) (*session.Replayer, context.Context) {
	rep := session.BeginReplaying(&cassette.Cassette{
		SchemaVersion: cassette.SchemaVersion,
		Events:        events,
	}, session.ReplayOptions{Strict: strict})
	return rep, session.WithSession(context.Background(), rep)
}

// fakeCollection stands in for a live server. Calls is bumped on every hit
// so tests can assert mocked replays never reach it.
type fakeCollection struct {
	findOneDoc bson.D
	findOneErr error
	findDocs   []bson.D
	insertedID interface{}
	updateRes  *mongo.UpdateResult
	deleteRes  *mongo.DeleteResult
	count      int64

	calls int
}

func (f *fakeCollection) FindOne(context.Context, interface{}, ...*options.FindOneOptions) *mongo.SingleResult {
	f.calls++
	if f.findOneErr != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, f.findOneErr, nil)
	}
	return mongo.NewSingleResultFromDocument(f.findOneDoc, nil, nil)
}

func (f *fakeCollection) Find(context.Context, interface{}, ...*options.FindOptions) (*mongo.Cursor, error) {
	f.calls++
	return mongo.NewCursorFromDocuments(docsToAny(f.findDocs), nil, nil)
}

func (f *fakeCollection) Aggregate(context.Context, interface{}, ...*options.AggregateOptions) (*mongo.Cursor, error) {
	f.calls++
	return mongo.NewCursorFromDocuments(docsToAny(f.findDocs), nil, nil)
}

func (f *fakeCollection) InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	f.calls++
	return &mongo.InsertOneResult{InsertedID: f.insertedID}, nil
}

func (f *fakeCollection) InsertMany(_ context.Context, docs []interface{}, _ ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	f.calls++
	ids := make([]interface{}, len(docs))
	for i := range docs {
		ids[i] = primitive.NewObjectID()
	}
	return &mongo.InsertManyResult{InsertedIDs: ids}, nil
}

func (f *fakeCollection) UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.calls++
	return f.updateRes, nil
}

func (f *fakeCollection) UpdateMany(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.calls++
	return f.updateRes, nil
}

func (f *fakeCollection) DeleteOne(context.Context, interface{}, ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	f.calls++
	return f.deleteRes, nil
}

func (f *fakeCollection) DeleteMany(context.Context, interface{}, ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	f.calls++
	return f.deleteRes, nil
}

func (f *fakeCollection) CountDocuments(context.Context, interface{}, ...*options.CountOptions) (int64, error) {
	f.calls++
	return f.count, nil
}

func usersCollection(fake *fakeCollection) *Collection {
	return &Collection{coll: fake, db: "shop", name: "users"}
}

func TestSignatureFor(t *testing.T) {
	c := Mock("shop", "users")
	sig := c.signatureFor("find_one", bson.M{"email": "ada@example.com", "active": true}, nil)

	assert.Equal(t, library, sig.Library)
	assert.Equal(t, "FIND_ONE", sig.Operation)
	assert.Equal(t, "shop.users", sig.Target)
	assert.Equal(t, []string{"active", "email"}, sig.Query)
	assert.NotEmpty(t, sig.BodyHash)
}

func TestSignatureIndependentOfFieldOrder(t *testing.T) {
	c := Mock("shop", "users")
	a := c.signatureFor("find", bson.D{{Key: "city", Value: "Oslo"}, {Key: "active", Value: true}}, nil)
	b := c.signatureFor("find", bson.D{{Key: "active", Value: true}, {Key: "city", Value: "Oslo"}}, nil)

	assert.Equal(t, a.BodyHash, b.BodyHash)
	assert.Equal(t, a.Query, b.Query)
}

func TestRecordFindOne(t *testing.T) {
	rec, ctx := recordingContext()
	fake := &fakeCollection{findOneDoc: bson.D{{Key: "name", Value: "Ada"}, {Key: "age", Value: int32(36)}}}
	c := usersCollection(fake)

	var got bson.M
	require.NoError(t, c.FindOne(ctx, bson.M{"name": "Ada"}).Decode(&got))
	assert.Equal(t, "Ada", got["name"])

	events := rec.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, cassette.EventDBQuery, ev.Type)
	assert.Equal(t, "FIND_ONE", ev.Signature.Operation)
	assert.Equal(t, "shop.users", ev.Signature.Target)
	assert.Equal(t, 200, ev.Result.Status)
	require.NotNil(t, ev.Result.Body)
}

func TestRecordFindOneMiss(t *testing.T) {
	rec, ctx := recordingContext()
	fake := &fakeCollection{findOneErr: mongo.ErrNoDocuments}
	c := usersCollection(fake)

	err := c.FindOne(ctx, bson.M{"name": "nobody"}).Err()
	require.ErrorIs(t, err, mongo.ErrNoDocuments)

	events := rec.Events()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Result.Error)
	assert.Equal(t, errNoDocumentsType, events[0].Result.Error.Type)
}

func TestReplayRoundTrip(t *testing.T) {
	oid := primitive.NewObjectID()
	rec, recCtx := recordingContext()
	fake := &fakeCollection{
		findOneDoc: bson.D{{Key: "_id", Value: oid}, {Key: "name", Value: "Ada"}},
		insertedID: oid,
		count:      3,
	}
	c := usersCollection(fake)

	_, err := c.InsertOne(recCtx, bson.M{"name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, c.FindOne(recCtx, bson.M{"name": "Ada"}).Err())
	_, err = c.CountDocuments(recCtx, bson.M{})
	require.NoError(t, err)

	// Replay against a mock collection: no server, same answers.
	_, repCtx := replayingContext(rec.Events(), true)
	mock := Mock("shop", "users")

	ins, err := mock.InsertOne(repCtx, bson.M{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, oid, ins.InsertedID, "ObjectID must survive the cassette round trip")

	var got bson.M
	require.NoError(t, mock.FindOne(repCtx, bson.M{"name": "Ada"}).Decode(&got))
	assert.Equal(t, "Ada", got["name"])

	n, err := mock.CountDocuments(repCtx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.Equal(t, 3, fake.calls, "replay must never reach the live collection")
}

func TestReplayNoDocumentsMiss(t *testing.T) {
	rec, recCtx := recordingContext()
	c := usersCollection(&fakeCollection{findOneErr: mongo.ErrNoDocuments})
	require.ErrorIs(t, c.FindOne(recCtx, bson.M{"name": "nobody"}).Err(), mongo.ErrNoDocuments)

	_, repCtx := replayingContext(rec.Events(), true)
	mock := Mock("shop", "users")
	err := mock.FindOne(repCtx, bson.M{"name": "nobody"}).Err()
	require.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestFindDrainsAndReserves(t *testing.T) {
	rec, recCtx := recordingContext()
	fake := &fakeCollection{findDocs: []bson.D{
		{{Key: "name", Value: "Ada"}},
		{{Key: "name", Value: "Grace"}},
	}}
	c := usersCollection(fake)

	cur, err := c.Find(recCtx, bson.M{"active": true})
	require.NoError(t, err)
	var live []bson.M
	require.NoError(t, cur.All(recCtx, &live))
	require.Len(t, live, 2, "the caller still sees the full drained result set")

	_, repCtx := replayingContext(rec.Events(), true)
	mock := Mock("shop", "users")
	cur, err = mock.Find(repCtx, bson.M{"active": true})
	require.NoError(t, err)
	var replayed []bson.M
	require.NoError(t, cur.All(repCtx, &replayed))
	require.Len(t, replayed, 2)
	assert.Equal(t, "Ada", replayed[0]["name"])
	assert.Equal(t, "Grace", replayed[1]["name"])
}

func TestUpdateAndDeleteRoundTrip(t *testing.T) {
	rec, recCtx := recordingContext()
	fake := &fakeCollection{
		updateRes: &mongo.UpdateResult{MatchedCount: 2, ModifiedCount: 1},
		deleteRes: &mongo.DeleteResult{DeletedCount: 4},
	}
	c := usersCollection(fake)

	_, err := c.UpdateMany(recCtx, bson.M{"active": false}, bson.M{"$set": bson.M{"active": true}})
	require.NoError(t, err)
	_, err = c.DeleteMany(recCtx, bson.M{"expired": true})
	require.NoError(t, err)

	_, repCtx := replayingContext(rec.Events(), true)
	mock := Mock("shop", "users")

	up, err := mock.UpdateMany(repCtx, bson.M{"active": false}, bson.M{"$set": bson.M{"active": true}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), up.MatchedCount)
	assert.Equal(t, int64(1), up.ModifiedCount)

	del, err := mock.DeleteMany(repCtx, bson.M{"expired": true})
	require.NoError(t, err)
	assert.Equal(t, int64(4), del.DeletedCount)
}

func TestReplayStrictMismatch(t *testing.T) {
	_, ctx := replayingContext(nil, true)
	mock := Mock("shop", "users")

	_, err := mock.CountDocuments(ctx, bson.M{})
	var mismatch *replay.MismatchError
	require.True(t, errors.As(err, &mismatch))
}

func TestMockWithoutSessionFails(t *testing.T) {
	mock := Mock("shop", "users")
	_, err := mock.CountDocuments(context.Background(), bson.M{})
	require.ErrorIs(t, err, ErrNoLiveCollection)
}

func TestHybridLiveListBypassesCassette(t *testing.T) {
	rep := session.BeginReplaying(&cassette.Cassette{SchemaVersion: cassette.SchemaVersion},
		session.ReplayOptions{Strict: true, Hybrid: policy.HybridPolicy{LivePlugins: []string{Tag}}})
	ctx := session.WithSession(context.Background(), rep)

	fake := &fakeCollection{count: 9}
	c := usersCollection(fake)

	n, err := c.CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.Equal(t, 1, fake.calls)
}
