package vectorindex

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// DefaultQdrantCollection is used when no collection name is configured.
const DefaultQdrantCollection = "docchat_chunks"

type qdrantAPI interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Qdrant keeps chunks as points whose payload carries tenant_id and
// document_id; every query filters on tenant_id.
type Qdrant struct {
	api        qdrantAPI
	collection string
	closer     func() error
}

// NewQdrant connects to addr ("host:port", gRPC) and creates the collection
// with cosine distance when it does not exist.
func NewQdrant(ctx context.Context, addr, collection string, dim int) (*Qdrant, error) {
	host, port := parseHostPort(addr, "localhost", 6334)
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	q := newQdrant(client, collection)
	q.closer = client.Close
	if err := q.ensureCollection(ctx, dim); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

func newQdrant(api qdrantAPI, collection string) *Qdrant {
	if collection == "" {
		collection = DefaultQdrantCollection
	}
	return &Qdrant{api: api, collection: collection}
}

func (q *Qdrant) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}

func (q *Qdrant) ensureCollection(ctx context.Context, dim int) error {
	exists, err := q.api.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection check: %w", err)
	}
	if exists {
		return nil
	}
	if dim <= 0 {
		return fmt.Errorf("qdrant collection %s: vector dimension is required", q.collection)
	}
	return q.api.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (q *Qdrant) Upsert(ctx context.Context, chunks []Chunk) error {
	if err := validateChunks(chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(c.ID)),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"chunk_id":    c.ID,
				"tenant_id":   c.TenantID,
				"document_id": c.DocumentID,
				"ordinal":     int64(c.Ordinal),
				"content":     c.Content,
			}),
		})
	}
	wait := true
	_, err := q.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	return err
}

func (q *Qdrant) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	wait := true
	_, err := q.api.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("tenant_id", tenantID),
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	return err
}

func (q *Qdrant) Query(ctx context.Context, query Query) ([]Match, error) {
	if query.DocumentIDs != nil && len(query.DocumentIDs) == 0 {
		return []Match{}, nil
	}
	limit := uint64(query.limit())
	points, err := q.api.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query.Vector...),
		Filter:         queryFilter(query),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		m := Match{Score: float64(p.GetScore())}
		payload := p.GetPayload()
		m.ChunkID = payload["chunk_id"].GetStringValue()
		m.TenantID = payload["tenant_id"].GetStringValue()
		m.DocumentID = payload["document_id"].GetStringValue()
		m.Ordinal = int(payload["ordinal"].GetIntegerValue())
		m.Content = payload["content"].GetStringValue()
		matches = append(matches, m)
	}
	return matches, nil
}

func queryFilter(query Query) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch("tenant_id", query.TenantID)}
	if len(query.DocumentIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords("document_id", query.DocumentIDs...))
	}
	return &qdrant.Filter{Must: must}
}

// pointID maps a chunk id onto the UUID space Qdrant accepts for point ids.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("docchat:"+chunkID)).String()
}

func parseHostPort(addr string, defaultHost string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		if addr != "" {
			return addr, defaultPort
		}
		return defaultHost, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}
