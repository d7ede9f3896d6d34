package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
)

type fakeCollection struct {
	size     int
	distance Distance
	points   map[string]qdrantPoint
}

// fakeQdrant serves the subset of the Qdrant REST API the store uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	failNext    atomic.Int32
	requests    atomic.Int32
	apiKey      string
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{collections: make(map[string]*fakeCollection)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQdrant) reply(w http.ResponseWriter, result any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func matchesFile(filter map[string]any, p qdrantPoint) bool {
	must, _ := filter["must"].([]any)
	for _, m := range must {
		cond := m.(map[string]any)
		want := cond["match"].(map[string]any)["value"]
		if cond["key"] == "file_path" && p.Payload.FilePath != want {
			return false
		}
	}
	return true
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if f.failNext.Load() > 0 {
		f.failNext.Add(-1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
		return
	}
	if f.apiKey != "" && r.Header.Get("api-key") != f.apiKey {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 1 && r.Method == http.MethodGet {
		var names []map[string]string
		for name := range f.collections {
			names = append(names, map[string]string{"name": name})
		}
		f.reply(w, map[string]any{"collections": names})
		return
	}

	name := parts[1]
	c, exists := f.collections[name]
	if len(parts) == 2 && r.Method == http.MethodPut {
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.collections[name] = &fakeCollection{
			size:     body.Vectors.Size,
			distance: parseQdrantDistance(body.Vectors.Distance),
			points:   make(map[string]qdrantPoint),
		}
		f.reply(w, true)
		return
	}
	if !exists {
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
		return
	}
	if len(parts) == 2 {
		info := qdrantCollectionInfo{}
		info.Config.Params.Vectors.Size = c.size
		info.Config.Params.Vectors.Distance = qdrantDistance(c.distance)
		f.reply(w, info)
		return
	}

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	action := strings.Join(parts[2:], "/")

	switch {
	case action == "points" && r.Method == http.MethodPut:
		raw, _ := json.Marshal(body["points"])
		var pts []qdrantPoint
		_ = json.Unmarshal(raw, &pts)
		for _, p := range pts {
			if len(p.Vector) != c.size {
				http.Error(w, "wrong vector size", http.StatusBadRequest)
				return
			}
			c.points[p.ID] = p
		}
		f.reply(w, map[string]any{"status": "completed"})

	case action == "points":
		var found []qdrantPoint
		for _, id := range body["ids"].([]any) {
			if p, ok := c.points[id.(string)]; ok {
				found = append(found, p)
			}
		}
		f.reply(w, found)

	case action == "points/delete":
		filter := body["filter"].(map[string]any)
		for id, p := range c.points {
			if matchesFile(filter, p) {
				delete(c.points, id)
			}
		}
		f.reply(w, map[string]any{"status": "completed"})

	case action == "points/scroll":
		filter := body["filter"].(map[string]any)
		var found []qdrantPoint
		for _, p := range c.points {
			if matchesFile(filter, p) {
				found = append(found, p)
			}
		}
		f.reply(w, map[string]any{"points": found, "next_page_offset": nil})

	case action == "points/search":
		raw, _ := json.Marshal(body["vector"])
		var q []float32
		_ = json.Unmarshal(raw, &q)
		var hits []qdrantPoint
		for _, p := range c.points {
			p.Score = similarity(c.distance, q, p.Vector)
			hits = append(hits, p)
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if limit := int(body["limit"].(float64)); limit < len(hits) {
			hits = hits[:limit]
		}
		f.reply(w, hits)

	case action == "points/count":
		f.reply(w, map[string]int{"count": len(c.points)})

	default:
		http.Error(w, "unsupported "+action, http.StatusBadRequest)
	}
}

func fastStoreRetry() cierrors.RetryConfig {
	return cierrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newTestQdrant(t *testing.T, url string) *QdrantStore {
	t.Helper()
	s, err := NewQdrantStore(QdrantConfig{URL: url, Timeout: time.Second, Retry: fastStoreRetry(), Logger: logging.Discard()})
	require.NoError(t, err)
	return s
}

func TestQdrantStore_RetriesTransientFailures(t *testing.T) {
	// Given a server that answers 503 twice
	f, srv := newFakeQdrant(t)
	s := newTestQdrant(t, srv.URL)
	f.failNext.Store(2)

	// When a collection is ensured
	err := s.EnsureCollection(context.Background(), testCollection, 2, DistanceCosine)

	// Then the store retried through the failures
	require.NoError(t, err)
	assert.Contains(t, f.collections, testCollection)
}

func TestQdrantStore_GivesUpAsTransient(t *testing.T) {
	f, srv := newFakeQdrant(t)
	s := newTestQdrant(t, srv.URL)
	f.failNext.Store(10)

	_, err := s.Count(context.Background(), testCollection)

	var se *cierrors.StoreError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.True(t, se.Transient)
	assert.True(t, cierrors.IsUnavailable(err))
	assert.Equal(t, int32(3), f.requests.Load())
}

func TestQdrantStore_UnreachableServerIsTransient(t *testing.T) {
	_, srv := newFakeQdrant(t)
	url := srv.URL
	srv.Close()
	s := newTestQdrant(t, url)

	err := s.EnsureCollection(context.Background(), testCollection, 2, DistanceCosine)

	assert.True(t, cierrors.IsUnavailable(err), "got %v", err)
}

func TestQdrantStore_SendsAPIKeyAndStableIDs(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.apiKey = "secret"
	s, err := NewQdrantStore(QdrantConfig{URL: srv.URL, APIKey: "secret", Retry: fastStoreRetry()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, testCollection, 2, DistanceCosine))
	require.NoError(t, s.Upsert(ctx, testCollection, []Point{pt("chunk-1", "a.go", 1, 0)}))

	_, ok := f.collections[testCollection].points[qdrantPointID("chunk-1")]
	assert.True(t, ok)
	assert.Equal(t, qdrantPointID("chunk-1"), qdrantPointID("chunk-1"))
	assert.NotEqual(t, qdrantPointID("chunk-1"), qdrantPointID("chunk-2"))
}

func TestNewQdrantStore_RequiresURL(t *testing.T) {
	_, err := NewQdrantStore(QdrantConfig{})
	assert.Equal(t, cierrors.ErrCodeConfigInvalid, cierrors.GetCode(err))
}
