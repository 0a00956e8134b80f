package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

const scrollPageSize = 64

type pointsAPI interface {
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

type collectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
}

// Index is the read-only chunk index over qdrant collections.
type Index struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	executor    *resilience.Executor
	logger      *slog.Logger
}

type Option func(*Index)

func WithExecutor(executor *resilience.Executor) Option {
	return func(i *Index) { i.executor = executor }
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New connects to qdrant's gRPC endpoint.
func New(addr string, opts ...Option) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	idx := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), opts...)
	idx.conn = conn
	return idx, nil
}

func NewWithClients(points pointsAPI, collections collectionsAPI, opts ...Option) *Index {
	idx := &Index{points: points, collections: collections, logger: slog.Default()}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (i *Index) Close() error {
	if i.conn == nil {
		return nil
	}
	return i.conn.Close()
}

func (i *Index) Ping(ctx context.Context) error {
	if _, err := i.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return mapGRPCError("qdrant ping", err)
	}
	return nil
}

func (i *Index) Search(ctx context.Context, q domain.ChunkQuery) ([]domain.IndexedChunk, error) {
	req := &pb.SearchPoints{
		CollectionName: q.Collection,
		Vector:         q.Vector,
		Limit:          uint64(q.TopK),
		Filter:         buildFilter(q.Filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}

	var resp *pb.SearchResponse
	err := i.execute(ctx, "qdrant.search", func(ctx context.Context) error {
		var err error
		resp, err = i.points.Search(ctx, req)
		return err
	})
	if err != nil {
		return nil, mapGRPCError("qdrant search "+q.Collection, err)
	}

	out := make([]domain.IndexedChunk, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		c := chunkFromPayload(pointID(p.GetId()), p.GetPayload())
		c.Distance = distanceFromScore(q.Metric, float64(p.GetScore()))
		out = append(out, c)
	}
	return out, nil
}

// FetchByKey scrolls every chunk carrying any of the fetch's keys in
// KeyField, up to Limit.
func (i *Index) FetchByKey(ctx context.Context, f domain.KeyFetch) ([]domain.IndexedChunk, error) {
	keys := f.Keys()
	if len(keys) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant fetch", fmt.Errorf("empty key"))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = scrollPageSize
	}
	filter := &pb.Filter{Must: []*pb.Condition{anyKeyCondition(f.KeyField, keys)}}
	if len(f.SourceTypes) > 0 {
		filter.Must = append(filter.Must, keywordsCondition("source_type", f.SourceTypes))
	}

	var (
		out    []domain.IndexedChunk
		offset *pb.PointId
	)
	for len(out) < limit {
		page := uint32(min(scrollPageSize, limit-len(out)))
		req := &pb.ScrollPoints{
			CollectionName: f.Collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          &page,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		}
		var resp *pb.ScrollResponse
		err := i.execute(ctx, "qdrant.scroll", func(ctx context.Context) error {
			var err error
			resp, err = i.points.Scroll(ctx, req)
			return err
		})
		if err != nil {
			return nil, mapGRPCError("qdrant scroll "+f.Collection, err)
		}
		for _, p := range resp.GetResult() {
			out = append(out, chunkFromPayload(pointID(p.GetId()), p.GetPayload()))
		}
		offset = resp.GetNextPageOffset()
		if offset == nil || len(resp.GetResult()) == 0 {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (i *Index) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	if i.executor == nil {
		return fn(ctx)
	}
	return i.executor.Execute(ctx, op, fn, classifyQdrantError)
}

// distanceFromScore converts qdrant's score into a distance in the
// configured metric. Cosine and dot scores are similarities; euclid scores
// are already distances.
func distanceFromScore(metric domain.Metric, score float64) float64 {
	if metric == domain.MetricL2 {
		return score
	}
	return 1 - score
}
