// Package vectorindex adapts the embedded-chunk storage contract of §4.9
// onto a Qdrant collection: ensure-dimension, batched upsert, filtered
// delete, and filtered top-k search.
package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stashes the caller's original point ID in the payload,
// since Qdrant only accepts UUIDs or positive integers as point IDs.
const payloadIDField = "_original_id"

// Point is a single vector plus its string-keyed payload, addressed by the
// caller's own chunk ID.
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Match is a single top-k search hit.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Index is the contract the ingestion pipeline and retrieval engine depend
// on; a Qdrant-backed Store and an in-memory fake both satisfy it.
type Index interface {
	EnsureCollection(ctx context.Context, dim int) error
	// DropCollection deletes the whole collection, if it exists. Callers
	// re-create it with EnsureCollection before upserting again; used by a
	// full re-ingest to guarantee no chunk from a prior run -- including one
	// orphaned by a file shrinking to fewer chunks -- survives it.
	DropCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []Point) error
	DeleteByFilter(ctx context.Context, filter map[string]string) error
	Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Match, error)
	Dimension() int
	Close() error
}

// Store is the production Index backed by a real Qdrant collection,
// grounded on the teacher's qdrant vector store adapter.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// Open parses a Qdrant DSN (host[:port][?api_key=...]) and connects over
// gRPC, creating the collection if it does not already exist.
func Open(ctx context.Context, dsn, collection string, dimensions int, metric string) (*Store, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	// A bare host[:port] has no scheme; without one url.Parse would read
	// "host:port" as scheme and opaque data and lose the host.
	if !strings.Contains(dsn, "://") {
		dsn = "http://" + dsn
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	s := &Store{client: client, collection: collection, dimension: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}
	if dimensions > 0 {
		if err := s.EnsureCollection(ctx, dimensions); err != nil {
			client.Close()
			return nil, err
		}
	}
	return s, nil
}

// DropCollection deletes the collection if it exists, per §4.9/§4.10's full
// re-ingest requirement. Callers must call EnsureCollection again before
// upserting.
func (s *Store) DropCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection with the given dimension if it
// does not already exist; a no-op otherwise, per §4.9.
func (s *Store) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		s.dimension = dim
		return nil
	}
	if dim <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	var distance qdrant.Distance
	switch s.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	s.dimension = dim
	return nil
}

func pointUUID(id string) (uuidStr string, original string) {
	if _, err := uuid.Parse(id); err == nil {
		return id, ""
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), id
}

// Upsert writes a batch of points in a single request, per §4.9.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	out := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		uuidStr, original := pointUUID(p.ID)
		payloadAny := make(map[string]any, len(p.Metadata)+1)
		for k, v := range p.Metadata {
			payloadAny[k] = v
		}
		if original != "" {
			payloadAny[payloadIDField] = original
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		out = append(out, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payloadAny),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         out,
	})
	return err
}

// DeleteByFilter removes every point matching an equality filter on each
// key-value pair, used to evict a file's or post's prior chunks on replace.
func (s *Store) DeleteByFilter(ctx context.Context, filter map[string]string) error {
	if len(filter) == 0 {
		return fmt.Errorf("delete by filter requires at least one condition")
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Must: must},
			},
		},
	})
	return err
}

// Search runs a filtered top-k nearest-neighbor query, per §4.9 and §4.11.
func (s *Store) Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Match, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	var queryFilter *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		queryFilter = &qdrant.Filter{Must: must}
	}
	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         queryFilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(hits))
	for _, hit := range hits {
		uuidStr := hit.Id.GetUuid()
		if uuidStr == "" {
			uuidStr = hit.Id.String()
		}
		metadata := make(map[string]string)
		originalID := ""
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadIDField {
					originalID = v.GetStringValue()
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		id := originalID
		if id == "" {
			id = uuidStr
		}
		out = append(out, Match{ID: id, Score: float64(hit.Score), Metadata: metadata})
	}
	return out, nil
}

func (s *Store) Dimension() int { return s.dimension }

func (s *Store) Close() error { return s.client.Close() }
