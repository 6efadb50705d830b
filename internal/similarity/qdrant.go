package similarity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// pointNamespace seeds deterministic point ids.
var pointNamespace = uuid.MustParse("6f1d3c5e-2a8b-4c1e-9f4d-7b2a1e0c9d38")

// QdrantConfig configures the remote index.
type QdrantConfig struct {
	Host       string
	Port       int
	UseTLS     bool
	APIKey     string
	Collection string
	Dimension  int
}

// QdrantIndex is a remote Index. All owners share one collection and are
// separated by an indexed payload filter.
type QdrantIndex struct {
	client *qdrant.Client
	cfg    QdrantConfig
	logger *zap.Logger

	mu      sync.Mutex
	ensured bool
}

// NewQdrantIndex connects to Qdrant over gRPC.
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant vector dimension must be positive")
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC connection is not using TLS", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	return &QdrantIndex{client: client, cfg: cfg, logger: logger}, nil
}

// PointID returns the deterministic point id for a draft, so re-indexing the
// same draft overwrites its point.
func PointID(owner, draftID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(owner+":"+draftID)).String()
}

// isTransient reports gRPC failures worth one more attempt.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func (q *QdrantIndex) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !isTransient(err) {
		return err
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(250 * time.Millisecond):
	}
	return op()
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.cfg.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
		_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.cfg.Collection,
			FieldName:      "owner",
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("indexing owner field: %w", err)
		}
		q.logger.Info("created qdrant collection",
			zap.String("collection", q.cfg.Collection),
			zap.Int("dimension", q.cfg.Dimension))
	}
	q.ensured = true
	return nil
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// Upsert implements Index.
func (q *QdrantIndex) Upsert(ctx context.Context, e Entry) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()

	if err := e.validate(); err != nil {
		return err
	}
	if len(e.Vector) != q.cfg.Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e.Vector), q.cfg.Dimension)
	}
	if err := q.ensureCollection(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(PointID(e.Owner, e.DraftID)),
		Vectors: qdrant.NewVectors(e.Vector...),
		Payload: map[string]*qdrant.Value{
			"owner":      stringValue(e.Owner),
			"draft_id":   stringValue(e.DraftID),
			"content":    stringValue(e.Content),
			"created_at": stringValue(created.Format(time.RFC3339Nano)),
		},
	}

	err := q.withRetry(ctx, func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.cfg.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting point: %w", err)
	}
	return nil
}

// Query implements Index.
func (q *QdrantIndex) Query(ctx context.Context, owner string, vector []float32, k int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if owner == "" || k <= 0 || len(vector) == 0 {
		return []Hit{}, nil
	}
	if err := q.ensureCollection(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	filter := &qdrant.Filter{Must: []*qdrant.Condition{{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   "owner",
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: owner}},
			},
		},
	}}}

	var points []*qdrant.ScoredPoint
	err := q.withRetry(ctx, func() error {
		res, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.cfg.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			Filter:         filter,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		points = res
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying points: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		h := Hit{Score: p.GetScore()}
		payload := p.GetPayload()
		if payload["owner"].GetStringValue() != owner {
			continue
		}
		h.DraftID = payload["draft_id"].GetStringValue()
		h.Content = payload["content"].GetStringValue()
		if ts, err := time.Parse(time.RFC3339Nano, payload["created_at"].GetStringValue()); err == nil {
			h.CreatedAt = ts
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Close implements Index.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
