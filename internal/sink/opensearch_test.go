package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaphod7777/Phishfindr/internal/event"
)

// fakeCluster is a minimal OpenSearch stand-in: index existence checks,
// index creation, document puts and bulk requests.
type fakeCluster struct {
	indices map[string]bool
	docs    map[string][]string // index -> document ids
	bulks   int
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		indices: make(map[string]bool),
		docs:    make(map[string][]string),
	}
}

func (f *fakeCluster) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := strings.Trim(r.URL.Path, "/")

		switch {
		case path == "":
			w.Write([]byte(`{"version":{"number":"2.11.0"}}`))

		case r.Method == http.MethodHead:
			if f.indices[path] {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}

		case r.Method == http.MethodPut && !strings.Contains(path, "/"):
			f.indices[path] = true
			w.Write([]byte(`{"acknowledged":true}`))

		case r.Method == http.MethodPut && strings.Contains(path, "/_doc/"):
			parts := strings.SplitN(path, "/_doc/", 2)
			f.docs[parts[0]] = append(f.docs[parts[0]], parts[1])
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"result":"created"}`))

		case strings.HasSuffix(path, "_bulk"):
			f.bulks++
			index := strings.TrimSuffix(path, "/_bulk")
			body, _ := io.ReadAll(r.Body)
			var items []string
			lines := strings.Split(strings.TrimSpace(string(body)), "\n")
			for i := 0; i+1 < len(lines); i += 2 {
				f.docs[index] = append(f.docs[index], fmt.Sprintf("doc-%d", i/2))
				items = append(items, `{"index":{"_index":"`+index+`","status":201}}`)
			}
			w.Write([]byte(`{"took":1,"errors":false,"items":[` + strings.Join(items, ",") + `]}`))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestOpenSearch(t *testing.T, serverURL string, now func() time.Time) *OpenSearch {
	t.Helper()
	client, err := opensearch.NewClient(opensearch.Config{Addresses: []string{serverURL}})
	require.NoError(t, err)
	return &OpenSearch{
		client: client,
		prefix: "phishfindr-events",
		log:    testLogger(),
		known:  make(map[string]bool),
		now:    now,
	}
}

func TestIndexNameDailyRotation(t *testing.T) {
	s := &OpenSearch{prefix: "phishfindr-events"}

	day1 := time.Date(2025, 9, 10, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2025, 9, 11, 0, 1, 0, 0, time.UTC)

	name1 := s.indexName(day1)
	name2 := s.indexName(day2)

	assert.Equal(t, "phishfindr-events-2025.09.10", name1)
	assert.Equal(t, "phishfindr-events-2025.09.11", name2)
	assert.NotEqual(t, name1, name2)

	// Local times map onto the UTC calendar day.
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "phishfindr-events-2025.09.11",
		s.indexName(time.Date(2025, 9, 10, 20, 0, 0, 0, est)))
}

func TestOpenSearchWriteCreatesDailyIndexLazily(t *testing.T) {
	cluster := newFakeCluster()
	server := httptest.NewServer(cluster.handler())
	defer server.Close()

	now := time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)
	s := newTestOpenSearch(t, server.URL, func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, event.Event{"id": "e1", "operation": "UserLoggedIn"}))

	assert.True(t, cluster.indices["phishfindr-events-2025.09.10"])
	assert.Equal(t, []string{"e1"}, cluster.docs["phishfindr-events-2025.09.10"])

	// Second write reuses the cached index, no second create.
	require.NoError(t, s.Write(ctx, event.Event{"id": "e2"}))
	assert.Equal(t, []string{"e1", "e2"}, cluster.docs["phishfindr-events-2025.09.10"])
}

func TestOpenSearchWritesRotateAcrossDays(t *testing.T) {
	cluster := newFakeCluster()
	server := httptest.NewServer(cluster.handler())
	defer server.Close()

	now := time.Date(2025, 9, 10, 23, 0, 0, 0, time.UTC)
	s := newTestOpenSearch(t, server.URL, func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, event.Event{"id": "d1"}))

	now = now.Add(2 * time.Hour) // past midnight UTC
	require.NoError(t, s.Write(ctx, event.Event{"id": "d2"}))

	assert.Equal(t, []string{"d1"}, cluster.docs["phishfindr-events-2025.09.10"])
	assert.Equal(t, []string{"d2"}, cluster.docs["phishfindr-events-2025.09.11"])
}

func TestOpenSearchWriteBatch(t *testing.T) {
	cluster := newFakeCluster()
	server := httptest.NewServer(cluster.handler())
	defer server.Close()

	now := time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)
	s := newTestOpenSearch(t, server.URL, func() time.Time { return now })

	events := []event.Event{
		{"id": "b1", "operation": "UserLoggedIn"},
		{"id": "b2", "operation": "FileAccessed"},
		{"id": "b3", "operation": "Set-Mailbox"},
	}

	result, err := s.WriteBatch(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Written)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, cluster.bulks)
}

func TestOpenSearchWriteBatchCountsUnmarshalableEvents(t *testing.T) {
	cluster := newFakeCluster()
	server := httptest.NewServer(cluster.handler())
	defer server.Close()

	now := time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)
	s := newTestOpenSearch(t, server.URL, func() time.Time { return now })

	// The channel value cannot be marshaled, so that item fails on this
	// goroutine while the surrounding items complete through the
	// indexer's worker callbacks.
	events := []event.Event{
		{"id": "m1", "operation": "UserLoggedIn"},
		{"id": "m2", "payload": make(chan int)},
		{"id": "m3", "operation": "FileAccessed"},
	}

	result, err := s.WriteBatch(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 1, result.Failed)
}

func TestOpenSearchWriteBatchEmpty(t *testing.T) {
	s := &OpenSearch{prefix: "p", known: map[string]bool{}, now: time.Now}
	result, err := s.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.Written)
	assert.Zero(t, result.Failed)
}
