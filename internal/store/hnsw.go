package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"go.etcd.io/bbolt"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
)

const backendHNSW = "hnsw"

var bucketCollections = []byte("collections")

func pointsBucket(collection string) []byte {
	return []byte("points/" + collection)
}

// HNSWConfig configures the embedded store.
type HNSWConfig struct {
	// Path is the bbolt file. Empty keeps everything in memory.
	Path string

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int

	// ExactBelow scans collections with fewer points exhaustively instead of
	// walking the graph (default: 1024). Negative always uses the graph.
	ExactBelow int

	Logger *slog.Logger
}

type collectionMeta struct {
	Size     int      `json:"size"`
	Distance Distance `json:"distance"`
	NextSeq  uint64   `json:"next_seq"`
}

type pointRecord struct {
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
	Seq     uint64    `json:"seq"`
}

// hnswCollection is the in-memory view of one collection. Replaced or
// deleted points stay in the graph as orphans until the next rebuild,
// because removing nodes from coder/hnsw can disconnect the graph.
type hnswCollection struct {
	meta    collectionMeta
	graph   *hnsw.Graph[uint64]
	points  map[string]*pointRecord
	keys    map[string]uint64
	ids     map[uint64]string
	nextKey uint64
	orphans int
}

// HNSWStore implements VectorStore with a coder/hnsw graph per collection
// and a bbolt file for durability.
type HNSWStore struct {
	mu          sync.RWMutex
	db          *bbolt.DB
	cfg         HNSWConfig
	collections map[string]*hnswCollection
	logger      *slog.Logger
	closed      bool
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore opens (or creates) the store and rebuilds graphs from disk.
func NewHNSWStore(cfg HNSWConfig) (*HNSWStore, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if cfg.ExactBelow == 0 {
		cfg.ExactBelow = 1024
	}

	s := &HNSWStore{
		cfg:         cfg,
		collections: make(map[string]*hnswCollection),
		logger:      logging.WithSource(cfg.Logger, "store.hnsw"),
	}
	if cfg.Path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, storeErr(backendHNSW, "open", err)
	}
	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, storeErr(backendHNSW, "open", err)
	}
	s.db = db
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, cierrors.New(cierrors.ErrCodeCorruptIndex,
			fmt.Sprintf("cannot load vector store %s", cfg.Path), err).
			WithSuggestion("delete the file and re-index")
	}
	return s, nil
}

func (s *HNSWStore) load() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		metas, err := tx.CreateBucketIfNotExists(bucketCollections)
		if err != nil {
			return err
		}
		return metas.ForEach(func(k, v []byte) error {
			var meta collectionMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("collection %s: %w", k, err)
			}
			c := s.newCollection(meta)
			b := tx.Bucket(pointsBucket(string(k)))
			if b != nil {
				err := b.ForEach(func(id, data []byte) error {
					var rec pointRecord
					if err := json.Unmarshal(data, &rec); err != nil {
						return fmt.Errorf("point %s: %w", id, err)
					}
					c.points[string(id)] = &rec
					return nil
				})
				if err != nil {
					return err
				}
			}
			s.rebuild(c)
			s.collections[string(k)] = c
			s.logger.Debug("collection loaded",
				slog.String("collection", string(k)),
				slog.Int("points", len(c.points)))
			return nil
		})
	})
}

func (s *HNSWStore) newCollection(meta collectionMeta) *hnswCollection {
	return &hnswCollection{
		meta:   meta,
		graph:  s.newGraph(meta.Distance),
		points: make(map[string]*pointRecord),
		keys:   make(map[string]uint64),
		ids:    make(map[uint64]string),
	}
}

func (s *HNSWStore) newGraph(distance Distance) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	if distance == DistanceEuclid {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	g.M = s.cfg.M
	g.EfSearch = s.cfg.EfSearch
	g.Ml = 0.25
	return g
}

// rebuild recreates the graph from live points in insertion order.
func (s *HNSWStore) rebuild(c *hnswCollection) {
	ids := make([]string, 0, len(c.points))
	for id := range c.points {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return c.points[ids[i]].Seq < c.points[ids[j]].Seq })

	c.graph = s.newGraph(c.meta.Distance)
	c.keys = make(map[string]uint64, len(ids))
	c.ids = make(map[uint64]string, len(ids))
	c.nextKey = 0
	c.orphans = 0
	for _, id := range ids {
		c.addNode(id, c.points[id].Vector)
	}
}

func (c *hnswCollection) addNode(id string, vector []float32) {
	vec := make([]float32, len(vector))
	copy(vec, vector)
	if c.meta.Distance != DistanceEuclid {
		normalizeInPlace(vec)
	}
	key := c.nextKey
	c.nextKey++
	c.graph.Add(hnsw.MakeNode(key, vec))
	c.keys[id] = key
	c.ids[key] = id
}

func (c *hnswCollection) orphan(id string) {
	if key, ok := c.keys[id]; ok {
		delete(c.keys, id)
		delete(c.ids, key)
		c.orphans++
	}
}

func (s *HNSWStore) collection(name string) (*hnswCollection, error) {
	if s.closed {
		return nil, ErrClosed
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

// EnsureCollection creates the collection if absent.
func (s *HNSWStore) EnsureCollection(_ context.Context, name string, vectorSize int, distance Distance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storeErr(backendHNSW, "ensure_collection", ErrClosed)
	}
	if c, ok := s.collections[name]; ok {
		if c.meta.Size != vectorSize {
			return &cierrors.SchemaMismatchError{Collection: name, Existing: c.meta.Size, Requested: vectorSize}
		}
		return nil
	}

	meta := collectionMeta{Size: vectorSize, Distance: distance}
	if err := s.persistMeta(name, meta); err != nil {
		return storeErr(backendHNSW, "ensure_collection", err)
	}
	s.collections[name] = s.newCollection(meta)
	s.logger.Info("collection created",
		slog.String("collection", name),
		slog.Int("vector_size", vectorSize),
		slog.String("distance", string(distance)))
	return nil
}

func (s *HNSWStore) persistMeta(name string, meta collectionMeta) error {
	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketCollections).Put([]byte(name), data); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(pointsBucket(name))
		return err
	})
}

// Upsert inserts or overwrites points. An overwritten point keeps its
// original insertion sequence.
func (s *HNSWStore) Upsert(_ context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.collection(collection)
	if err != nil {
		return storeErr(backendHNSW, "upsert", err)
	}
	for _, p := range points {
		if len(p.Vector) != c.meta.Size {
			return storeErr(backendHNSW, "upsert", ErrDimensionMismatch{Expected: c.meta.Size, Got: len(p.Vector)})
		}
	}

	meta := c.meta
	records := make(map[string]*pointRecord, len(points))
	order := make([]string, 0, len(points))
	for _, p := range points {
		seq := uint64(0)
		if prev, ok := records[p.ID]; ok {
			seq = prev.Seq
		} else if existing, ok := c.points[p.ID]; ok {
			seq = existing.Seq
			order = append(order, p.ID)
		} else {
			seq = meta.NextSeq
			meta.NextSeq++
			order = append(order, p.ID)
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		records[p.ID] = &pointRecord{Vector: vec, Payload: p.Payload, Seq: seq}
	}

	if s.db != nil {
		err := s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(pointsBucket(collection))
			for id, rec := range records {
				data, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				if err := b.Put([]byte(id), data); err != nil {
					return err
				}
			}
			data, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			return tx.Bucket(bucketCollections).Put([]byte(collection), data)
		})
		if err != nil {
			return storeErr(backendHNSW, "upsert", err)
		}
	}

	c.meta = meta
	for _, id := range order {
		c.orphan(id)
		c.points[id] = records[id]
		c.addNode(id, records[id].Vector)
	}
	s.maybeCompact(c)
	return nil
}

// maybeCompact rebuilds the graph once orphans outnumber live points.
func (s *HNSWStore) maybeCompact(c *hnswCollection) {
	if c.orphans > 64 && c.orphans > len(c.points) {
		s.rebuild(c)
	}
}

// DeleteByFilePath removes every point of filePath.
func (s *HNSWStore) DeleteByFilePath(_ context.Context, collection, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.collection(collection)
	if err != nil {
		return storeErr(backendHNSW, "delete", err)
	}

	var doomed []string
	for id, rec := range c.points {
		if rec.Payload.FilePath == filePath {
			doomed = append(doomed, id)
		}
	}
	if len(doomed) == 0 {
		return nil
	}

	if s.db != nil {
		err := s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(pointsBucket(collection))
			for _, id := range doomed {
				if err := b.Delete([]byte(id)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return storeErr(backendHNSW, "delete", err)
		}
	}

	for _, id := range doomed {
		c.orphan(id)
		delete(c.points, id)
	}
	if len(c.points) == 0 {
		c.graph = s.newGraph(c.meta.Distance)
		c.orphans = 0
	}
	s.maybeCompact(c)
	return nil
}

// PointsByFilePath returns the points of filePath in insertion order.
func (s *HNSWStore) PointsByFilePath(_ context.Context, collection, filePath string) ([]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.collection(collection)
	if err != nil {
		return nil, storeErr(backendHNSW, "scroll", err)
	}
	type seqPoint struct {
		p   Point
		seq uint64
	}
	var found []seqPoint
	for id, rec := range c.points {
		if rec.Payload.FilePath == filePath {
			found = append(found, seqPoint{p: Point{ID: id, Vector: rec.Vector, Payload: rec.Payload}, seq: rec.Seq})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })
	out := make([]Point, len(found))
	for i, f := range found {
		out[i] = f.p
	}
	return out, nil
}

// Query returns the topK most similar points. Small collections are
// scanned exhaustively; larger ones use graph candidates rescored exactly.
func (s *HNSWStore) Query(_ context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.collection(collection)
	if err != nil {
		return nil, storeErr(backendHNSW, "query", err)
	}
	if len(vector) != c.meta.Size {
		return nil, storeErr(backendHNSW, "query", ErrDimensionMismatch{Expected: c.meta.Size, Got: len(vector)})
	}
	if topK <= 0 || len(c.points) == 0 {
		return []Result{}, nil
	}

	var ids []string
	if s.cfg.ExactBelow < 0 || len(c.points) >= s.cfg.ExactBelow {
		q := make([]float32, len(vector))
		copy(q, vector)
		if c.meta.Distance != DistanceEuclid {
			normalizeInPlace(q)
		}
		k := min(max(topK*2, s.cfg.EfSearch)+c.orphans, c.graph.Len())
		for _, node := range c.graph.Search(q, k) {
			if id, ok := c.ids[node.Key]; ok {
				ids = append(ids, id)
			}
		}
	} else {
		ids = make([]string, 0, len(c.points))
		for id := range c.points {
			ids = append(ids, id)
		}
	}

	cands := make([]scored, 0, len(ids))
	for _, id := range ids {
		rec := c.points[id]
		cands = append(cands, scored{
			result: Result{
				Point: Point{ID: id, Vector: rec.Vector, Payload: rec.Payload},
				Score: similarity(c.meta.Distance, vector, rec.Vector),
			},
			seq: rec.Seq,
		})
	}
	return rank(cands, topK), nil
}

// Count returns the number of live points.
func (s *HNSWStore) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.collection(collection)
	if err != nil {
		return 0, storeErr(backendHNSW, "count", err)
	}
	return len(c.points), nil
}

// Health reports collections and the latency of a read transaction.
func (s *HNSWStore) Health(_ context.Context) Health {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := Health{Backend: backendHNSW}
	if s.closed {
		h.Error = ErrClosed.Error()
		return h
	}
	if s.db != nil {
		if err := s.db.View(func(tx *bbolt.Tx) error {
			if tx.Bucket(bucketCollections) == nil {
				return fmt.Errorf("collections bucket missing")
			}
			return nil
		}); err != nil {
			h.Error = err.Error()
			h.Latency = time.Since(start)
			return h
		}
	}
	for name := range s.collections {
		h.Collections = append(h.Collections, name)
	}
	sort.Strings(h.Collections)
	h.Healthy = true
	h.Latency = time.Since(start)
	return h
}

// Close releases the bbolt file.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
