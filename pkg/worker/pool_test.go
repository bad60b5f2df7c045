package worker

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/storage"
	"github.com/retracehq/retrace/pkg/storage/inmemory"
)

// newTestPool creates a worker pool backed by an in-memory store.
// Callers should "wp.Close()" to drain enqueued jobs before asserting results.
func newTestPool() (*Pool, *inmemory.Store) {
	logger, _ := zap.NewDevelopment()
	store := inmemory.New()

	wp, err := NewPool(&Config{
		Store:  store,
		Logger: logger,
	})
	Expect(err).NotTo(HaveOccurred())

	return wp, store
}

func storeCassette(store *inmemory.Store, id string, events []cassette.Event) string {
	c := &cassette.Cassette{
		SchemaVersion: cassette.SchemaVersion,
		Session: cassette.SessionMeta{
			ID:         id,
			RecordedAt: time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC),
			Service:    "checkout",
		},
		Request:  cassette.RequestSnapshot{Method: "GET", Path: "/users/42"},
		Response: cassette.ResponseSnapshot{Status: 200},
		Events:   events,
	}
	writer := storage.CassetteWriter{Store: store, Compression: cassette.CompressionNone}
	key, err := writer.WriteCassette(context.Background(), c)
	Expect(err).NotTo(HaveOccurred())
	return key
}

var _ = Describe("Worker Pool", func() {
	var (
		wp    *Pool
		store *inmemory.Store
	)

	BeforeEach(func() {
		wp, store = newTestPool()
	})

	Describe("Enqueue", func() {
		It("returns true when the queue has capacity", func() {
			key := storeCassette(store, "s-1", nil)
			ok := wp.Enqueue(Job{Key: key})
			Expect(ok).To(BeTrue())
			wp.Close()
		})
	})

	Describe("Verification", func() {
		It("passes well-formed cassettes", func() {
			key := storeCassette(store, "s-1", []cassette.Event{
				{EID: 1, Type: cassette.EventHTTPClient, Signature: cassette.NewSignature("net/http", "GET", "http://a")},
				{EID: 2, Type: cassette.EventDBQuery, Signature: cassette.NewSignature("database/sql", "SELECT", "users")},
			})

			wp.Enqueue(Job{Key: key})
			wp.Close()

			results := wp.Results()
			Expect(results).To(HaveLen(1))
			Expect(results[0].OK()).To(BeTrue())
			Expect(results[0].Events).To(Equal(2))
			Expect(results[0].SchemaVersion).To(Equal(cassette.SchemaVersion))
		})

		It("fails cassettes whose bytes are corrupt", func() {
			err := store.Put(context.Background(), "2026-08-23/bad.json", []byte(`{"schema_version": "1.0", "events"`))
			Expect(err).NotTo(HaveOccurred())

			wp.Enqueue(Job{Key: "2026-08-23/bad.json"})
			wp.Close()

			results := wp.Results()
			Expect(results).To(HaveLen(1))
			Expect(results[0].OK()).To(BeFalse())
		})

		It("fails cassettes with out-of-order event ids", func() {
			key := storeCassette(store, "s-2", []cassette.Event{
				{EID: 2, Type: cassette.EventHTTPClient, Signature: cassette.NewSignature("net/http", "GET", "http://a")},
				{EID: 1, Type: cassette.EventHTTPClient, Signature: cassette.NewSignature("net/http", "GET", "http://b")},
			})

			wp.Enqueue(Job{Key: key})
			wp.Close()

			results := wp.Results()
			Expect(results).To(HaveLen(1))
			Expect(results[0].OK()).To(BeFalse())
			Expect(results[0].Err.Error()).To(ContainSubstring("not strictly increasing"))
		})

		It("processes many cassettes concurrently", func() {
			keys := make(map[string]bool)
			for i := range 20 {
				events := []cassette.Event{
					{EID: 1, Type: cassette.EventHTTPClient, Signature: cassette.NewSignature("net/http", "GET", "http://a")},
				}
				id := string(rune('a'+i)) + "-session-0000"
				keys[storeCassette(store, id, events)] = true
			}

			for key := range keys {
				Expect(wp.Enqueue(Job{Key: key})).To(BeTrue())
			}
			wp.Close()

			results := wp.Results()
			Expect(results).To(HaveLen(len(keys)))
			for _, res := range results {
				Expect(res.OK()).To(BeTrue())
			}
		})
	})
})
