package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
)

const backendQdrant = "qdrant"

// qdrantNamespace derives stable point UUIDs from chunk ids, which Qdrant
// would reject as ids on their own.
var qdrantNamespace = uuid.MustParse("6f1b0a52-94c4-4f36-9d56-93a3f0d6c1e2")

// QdrantConfig configures the REST client.
type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Retry   cierrors.RetryConfig
	Logger  *slog.Logger
}

// QdrantStore implements VectorStore against a Qdrant server over REST.
type QdrantStore struct {
	base    string
	apiKey  string
	timeout time.Duration
	retry   cierrors.RetryConfig
	client  *http.Client
	logger  *slog.Logger

	mu      sync.Mutex
	lastSeq uint64
	closed  bool
}

var _ VectorStore = (*QdrantStore)(nil)

// NewQdrantStore validates the URL and builds the client. No request is
// made until the first operation.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.URL == "" {
		return nil, cierrors.ConfigError("qdrant store needs store.url", nil)
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, cierrors.ConfigError(fmt.Sprintf("invalid qdrant url %q", cfg.URL), err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = cierrors.DefaultRetryConfig()
	}
	cfg.Retry.Retryable = transientStoreErr

	return &QdrantStore{
		base:    strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		client:  &http.Client{},
		logger:  logging.WithSource(cfg.Logger, "store.qdrant"),
		lastSeq: uint64(time.Now().UnixNano()),
	}, nil
}

func transientStoreErr(err error) bool {
	var se *cierrors.StoreError
	return errors.As(err, &se) && se.Transient
}

// qdrantPointID maps a chunk id onto a UUID.
func qdrantPointID(id string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(id)).String()
}

// nextSeq hands out increasing sequence numbers. Seeding from the clock
// keeps them increasing across processes writing the same collection.
func (s *QdrantStore) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := uint64(time.Now().UnixNano())
	if now <= s.lastSeq {
		now = s.lastSeq + 1
	}
	s.lastSeq = now
	return now
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status any             `json:"status"`
}

type qdrantPayload struct {
	Payload
	ChunkID string `json:"chunk_id"`
	Seq     uint64 `json:"seq"`
}

type qdrantPoint struct {
	ID      string        `json:"id"`
	Vector  []float32     `json:"vector,omitempty"`
	Payload qdrantPayload `json:"payload"`
	Score   float32       `json:"score,omitempty"`
}

func fileFilter(filePath string) map[string]any {
	return map[string]any{
		"must": []any{
			map[string]any{"key": "file_path", "match": map[string]any{"value": filePath}},
		},
	}
}

// call performs one request with retries. A 404 becomes
// ErrCollectionNotFound; 5xx and network failures are transient.
func (s *QdrantStore) call(ctx context.Context, op, method, path string, body, out any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return storeErr(backendQdrant, op, ErrClosed)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return storeErr(backendQdrant, op, err)
		}
	}

	raw, err := cierrors.RetryWithResult(ctx, s.retry, func() (json.RawMessage, error) {
		return s.once(ctx, op, method, path, payload)
	})
	if err != nil {
		return storeErr(backendQdrant, op, err)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return storeErr(backendQdrant, op, fmt.Errorf("decode result: %w", err))
		}
	}
	return nil
}

func (s *QdrantStore) once(ctx context.Context, op, method, path string, payload []byte) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, s.base+path, reader)
	if err != nil {
		return nil, &cierrors.StoreError{Backend: backendQdrant, Op: op, Cause: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		transient := errors.As(err, &netErr) || attemptCtx.Err() != nil || isConnErr(err)
		return nil, &cierrors.StoreError{Backend: backendQdrant, Op: op, Cause: err, Transient: transient}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &cierrors.StoreError{Backend: backendQdrant, Op: op, Cause: ErrCollectionNotFound}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &cierrors.StoreError{
			Backend:   backendQdrant,
			Op:        op,
			Cause:     fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)),
			Transient: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	var env qdrantEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &cierrors.StoreError{Backend: backendQdrant, Op: op, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return env.Result, nil
}

func isConnErr(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

type qdrantCollectionInfo struct {
	Config struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

func (s *QdrantStore) info(ctx context.Context, op, name string) (qdrantCollectionInfo, error) {
	var info qdrantCollectionInfo
	err := s.call(ctx, op, http.MethodGet, collectionPath(name), nil, &info)
	return info, err
}

func qdrantDistance(d Distance) string {
	if d == DistanceEuclid {
		return "Euclid"
	}
	return "Cosine"
}

func parseQdrantDistance(s string) Distance {
	if strings.EqualFold(s, "euclid") {
		return DistanceEuclid
	}
	return DistanceCosine
}

// EnsureCollection creates the collection if absent.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, vectorSize int, distance Distance) error {
	info, err := s.info(ctx, "ensure_collection", name)
	if err == nil {
		if existing := info.Config.Params.Vectors.Size; existing != vectorSize {
			return &cierrors.SchemaMismatchError{Collection: name, Existing: existing, Requested: vectorSize}
		}
		return nil
	}
	if !errors.Is(err, ErrCollectionNotFound) {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": qdrantDistance(distance)},
	}
	if err := s.call(ctx, "ensure_collection", http.MethodPut, collectionPath(name), body, nil); err != nil {
		return err
	}
	s.logger.Info("collection created",
		slog.String("collection", name),
		slog.Int("vector_size", vectorSize),
		slog.String("distance", string(distance)))
	return nil
}

// existingSeqs returns the seq of points that already exist, keyed by
// Qdrant id.
func (s *QdrantStore) existingSeqs(ctx context.Context, collection string, ids []string) (map[string]uint64, error) {
	var found []qdrantPoint
	body := map[string]any{"ids": ids, "with_payload": []string{"seq"}, "with_vector": false}
	if err := s.call(ctx, "upsert", http.MethodPost, collectionPath(collection)+"/points", body, &found); err != nil {
		return nil, err
	}
	seqs := make(map[string]uint64, len(found))
	for _, p := range found {
		seqs[p.ID] = p.Payload.Seq
	}
	return seqs, nil
}

// Upsert writes points, keeping the seq of points that already exist.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	info, err := s.info(ctx, "upsert", collection)
	if err != nil {
		return err
	}
	size := info.Config.Params.Vectors.Size
	for _, p := range points {
		if len(p.Vector) != size {
			return storeErr(backendQdrant, "upsert", ErrDimensionMismatch{Expected: size, Got: len(p.Vector)})
		}
	}

	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = qdrantPointID(p.ID)
	}
	seqs, err := s.existingSeqs(ctx, collection, ids)
	if err != nil {
		return err
	}

	out := make([]qdrantPoint, len(points))
	for i, p := range points {
		seq, ok := seqs[ids[i]]
		if !ok {
			seq = s.nextSeq()
			seqs[ids[i]] = seq
		}
		out[i] = qdrantPoint{
			ID:      ids[i],
			Vector:  p.Vector,
			Payload: qdrantPayload{Payload: p.Payload, ChunkID: p.ID, Seq: seq},
		}
	}
	return s.call(ctx, "upsert", http.MethodPut,
		collectionPath(collection)+"/points?wait=true", map[string]any{"points": out}, nil)
}

// DeleteByFilePath removes every point of filePath.
func (s *QdrantStore) DeleteByFilePath(ctx context.Context, collection, filePath string) error {
	return s.call(ctx, "delete", http.MethodPost,
		collectionPath(collection)+"/points/delete?wait=true",
		map[string]any{"filter": fileFilter(filePath)}, nil)
}

func (p qdrantPoint) toPoint() Point {
	return Point{ID: p.Payload.ChunkID, Vector: p.Vector, Payload: p.Payload.Payload}
}

// PointsByFilePath scrolls every point of filePath, ordered by seq.
func (s *QdrantStore) PointsByFilePath(ctx context.Context, collection, filePath string) ([]Point, error) {
	var all []qdrantPoint
	var offset any
	for {
		body := map[string]any{
			"filter":       fileFilter(filePath),
			"limit":        256,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			body["offset"] = offset
		}
		var page struct {
			Points         []qdrantPoint `json:"points"`
			NextPageOffset any           `json:"next_page_offset"`
		}
		if err := s.call(ctx, "scroll", http.MethodPost,
			collectionPath(collection)+"/points/scroll", body, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Points...)
		if page.NextPageOffset == nil {
			break
		}
		offset = page.NextPageOffset
	}

	cands := make([]scored, len(all))
	for i, p := range all {
		cands[i] = scored{result: Result{Point: p.toPoint()}, seq: p.Payload.Seq}
	}
	ranked := rank(cands, len(cands))
	out := make([]Point, len(ranked))
	for i, r := range ranked {
		out[i] = r.Point
	}
	return out, nil
}

// Query asks the server for candidates and rescores them locally, so
// scores and tie order match the embedded backends.
func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	info, err := s.info(ctx, "query", collection)
	if err != nil {
		return nil, err
	}
	if size := info.Config.Params.Vectors.Size; size != len(vector) {
		return nil, storeErr(backendQdrant, "query", ErrDimensionMismatch{Expected: size, Got: len(vector)})
	}
	if topK <= 0 {
		return []Result{}, nil
	}
	distance := parseQdrantDistance(info.Config.Params.Vectors.Distance)

	var hits []qdrantPoint
	body := map[string]any{
		"vector":       vector,
		"limit":        topK * 2,
		"with_payload": true,
		"with_vector":  true,
	}
	if err := s.call(ctx, "query", http.MethodPost,
		collectionPath(collection)+"/points/search", body, &hits); err != nil {
		return nil, err
	}

	cands := make([]scored, len(hits))
	for i, h := range hits {
		cands[i] = scored{
			result: Result{Point: h.toPoint(), Score: similarity(distance, vector, h.Vector)},
			seq:    h.Payload.Seq,
		}
	}
	return rank(cands, topK), nil
}

// Count returns the exact number of points.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	var res struct {
		Count int `json:"count"`
	}
	if err := s.call(ctx, "count", http.MethodPost,
		collectionPath(collection)+"/points/count", map[string]any{"exact": true}, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Health lists collections without retrying.
func (s *QdrantStore) Health(ctx context.Context) Health {
	start := time.Now()
	h := Health{Backend: backendQdrant}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		h.Error = ErrClosed.Error()
		return h
	}

	raw, err := s.once(ctx, "health", http.MethodGet, "/collections", nil)
	h.Latency = time.Since(start)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	var res struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		h.Error = err.Error()
		return h
	}
	for _, c := range res.Collections {
		h.Collections = append(h.Collections, c.Name)
	}
	sort.Strings(h.Collections)
	h.Healthy = true
	return h
}

// Close releases idle connections.
func (s *QdrantStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}
