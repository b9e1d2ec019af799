// Package qdrant implements vector.Repository against a Qdrant instance over
// gRPC.
package qdrant

import (
	"context"
	"fmt"
	"sort"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/efebarandurmaz/corpus/internal/vector"
)

const (
	payloadDocumentID = "document_id"
	payloadChunkIndex = "chunk_index"
	payloadText       = "text"
	payloadSource     = "source"
)

// DefaultTimeout bounds each Qdrant RPC when New is given a zero timeout.
const DefaultTimeout = 15 * time.Second

// Repository implements vector.Repository using Qdrant.
type Repository struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	timeout     time.Duration
}

// New connects to Qdrant and ensures the collection exists with the given
// vector dimension and cosine distance. Every RPC the Repository issues is
// bounded by timeout, so a stalled backend fails the call instead of
// hanging it.
func New(ctx context.Context, host string, port int, collection string, dimension int, timeout time.Duration) (*Repository, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	r := &Repository{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		timeout:     timeout,
	}
	if err := r.ensureCollection(ctx, dimension); err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

// opCtx derives the per-RPC deadline from the caller's context.
func (r *Repository) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Repository) ensureCollection(ctx context.Context, dimension int) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	exists, err := r.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: r.collection,
	})
	if err != nil {
		return vector.Unavailable("collection exists", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return vector.Unavailable("create collection", err)
	}
	return nil
}

func (r *Repository) Upsert(ctx context.Context, entries []vector.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		payload := map[string]*pb.Value{
			payloadDocumentID: {Kind: &pb.Value_StringValue{StringValue: e.Payload.DocumentID}},
			payloadChunkIndex: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(e.Payload.ChunkIndex)}},
			payloadText:       {Kind: &pb.Value_StringValue{StringValue: e.Payload.Text}},
			payloadSource:     {Kind: &pb.Value_StringValue{StringValue: e.Payload.Source}},
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: e.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Vector}}},
			Payload: payload,
		}
	}

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Points:         points,
	})
	if err != nil {
		return 0, vector.Unavailable("upsert", err)
	}
	return len(points), nil
}

func documentFilter(documentID string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   payloadDocumentID,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: documentID}},
				},
			},
		}},
	}
}

func (r *Repository) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	filter := documentFilter(documentID)

	// Qdrant's delete response carries no count, so count first.
	counted, err := r.points.Count(ctx, &pb.CountPoints{
		CollectionName: r.collection,
		Filter:         filter,
	})
	if err != nil {
		return 0, vector.Unavailable("count", err)
	}
	removed := int(counted.GetResult().GetCount())
	if removed == 0 {
		return 0, nil
	}

	_, err = r.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return 0, vector.Unavailable("delete", err)
	}
	return removed, nil
}

func (r *Repository) Search(ctx context.Context, vec []float32, k int, filter *vector.SearchFilter) ([]vector.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	req := &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if filter != nil && filter.Source != "" {
		req.Filter = &pb.Filter{
			Must: []*pb.Condition{{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   payloadSource,
						Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: filter.Source}},
					},
				},
			}},
		}
	}

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	resp, err := r.points.Search(ctx, req)
	if err != nil {
		return nil, vector.Unavailable("search", err)
	}

	results := make([]vector.SearchResult, len(resp.Result))
	for i, pt := range resp.Result {
		results[i] = vector.SearchResult{
			ID:      pt.Id.GetUuid(),
			Score:   pt.Score,
			Payload: payloadFromProto(pt.Payload),
		}
	}
	return results, nil
}

func (r *Repository) ListSources(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	limit := uint32(100)
	var offset *pb.PointId

	for {
		// The deadline is per page, not across the whole scroll.
		pageCtx, cancel := r.opCtx(ctx)
		resp, err := r.points.Scroll(pageCtx, &pb.ScrollPoints{
			CollectionName: r.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Include{
					Include: &pb.PayloadIncludeSelector{Fields: []string{payloadSource}},
				},
			},
		})
		cancel()
		if err != nil {
			return nil, vector.Unavailable("scroll", err)
		}

		for _, pt := range resp.Result {
			if v, ok := pt.Payload[payloadSource]; ok {
				if s := v.GetStringValue(); s != "" {
					seen[s] = struct{}{}
				}
			}
		}

		offset = resp.NextPageOffset
		if offset == nil {
			break
		}
	}

	sources := make([]string, 0, len(seen))
	for s := range seen {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources, nil
}

// Describe reports the live collection's vector dimension and point count,
// used by the worker's health endpoint to verify the index matches the
// embedder.
func (r *Repository) Describe(ctx context.Context) (int, uint64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	resp, err := r.collections.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collection,
	})
	if err != nil {
		return 0, 0, vector.Unavailable("describe", err)
	}
	info := resp.GetResult()
	dim := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	return dim, info.GetPointsCount(), nil
}

func (r *Repository) Close() error {
	return r.conn.Close()
}

func payloadFromProto(m map[string]*pb.Value) vector.Payload {
	var p vector.Payload
	for k, v := range m {
		switch k {
		case payloadDocumentID:
			p.DocumentID = v.GetStringValue()
		case payloadChunkIndex:
			p.ChunkIndex = int(v.GetIntegerValue())
		case payloadText:
			p.Text = v.GetStringValue()
		case payloadSource:
			p.Source = v.GetStringValue()
		}
	}
	return p
}

var _ vector.Repository = (*Repository)(nil)
