package qdrant

import (
	"context"
	"errors"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dshills/moviesearch/internal/storage"
)

// DefaultCollection is the collection movie plot vectors are written to
const DefaultCollection = "movies"

// ErrNoEmbedding is returned by Mirror for movies without a plot vector
var ErrNoEmbedding = errors.New("movie has no plot embedding")

// PointsClient is the subset of pb.PointsClient used by Index
type PointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// CollectionsClient is the subset of pb.CollectionsClient used by Index
type CollectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// MovieLoader hydrates movie rows by id. storage.SQLiteStorage satisfies it.
type MovieLoader interface {
	GetMoviesByIDs(ctx context.Context, ids []int64) (map[int64]*storage.Movie, error)
}

// Index serves nearest-plot queries from a Qdrant collection. Qdrant holds
// only vectors keyed by movie id; rows are loaded from the catalog.
type Index struct {
	conn        *grpc.ClientConn
	points      PointsClient
	collections CollectionsClient
	movies      MovieLoader
	collection  string
}

// New creates an Index connected to Qdrant at the given gRPC address
func New(addr, collection string, movies MovieLoader) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	idx := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, movies)
	idx.conn = conn
	return idx, nil
}

// NewWithClients creates an Index over existing clients
func NewWithClients(points PointsClient, collections CollectionsClient, collection string, movies MovieLoader) *Index {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Index{
		points:      points,
		collections: collections,
		movies:      movies,
		collection:  collection,
	}
}

// Close closes the underlying gRPC connection, if Index owns one
func (x *Index) Close() error {
	if x.conn == nil {
		return nil
	}
	return x.conn.Close()
}

// Collection returns the collection name
func (x *Index) Collection() string {
	return x.collection
}

// EnsureCollection creates the collection with cosine distance if it doesn't exist
func (x *Index) EnsureCollection(ctx context.Context, dims int) error {
	list, err := x.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == x.collection {
			return nil
		}
	}

	_, err = x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", x.collection, err)
	}
	return nil
}

// Mirror upserts the plot vectors of movies, one point per movie id
func (x *Index) Mirror(ctx context.Context, movies []*storage.Movie) error {
	if len(movies) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(movies))
	for i, m := range movies {
		if len(m.PlotEmbedding) == 0 {
			return fmt.Errorf("qdrant: movie %d: %w", m.ID, ErrNoEmbedding)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Num{Num: uint64(m.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: m.PlotEmbedding},
				},
			},
			Payload: map[string]*pb.Value{
				"title": {Kind: &pb.Value_StringValue{StringValue: m.Title}},
				"year":  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.Year)}},
			},
		}
	}

	wait := true
	_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
	}
	return nil
}

// KNN returns the q.K movies whose plots are nearest to q.Vector. Scores are
// cosine distance (1 - similarity), ascending. Points whose movie is missing
// from the catalog are dropped.
func (x *Index) KNN(ctx context.Context, q storage.VectorQuery) ([]*storage.ScoredMovie, error) {
	if q.K <= 0 || len(q.Vector) == 0 {
		return []*storage.ScoredMovie{}, nil
	}

	resp, err := x.points.Search(ctx, &pb.SearchPoints{
		CollectionName: x.collection,
		Vector:         q.Vector,
		Limit:          uint64(q.K),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	hits := resp.GetResult()
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, int64(h.GetId().GetNum()))
	}
	if len(ids) == 0 {
		return []*storage.ScoredMovie{}, nil
	}

	rows, err := x.movies.GetMoviesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("qdrant: hydrate %d hits: %w", len(ids), err)
	}

	results := make([]*storage.ScoredMovie, 0, len(hits))
	for i, h := range hits {
		m, ok := rows[ids[i]]
		if !ok {
			continue
		}
		results = append(results, &storage.ScoredMovie{
			Movie: m,
			Score: 1 - float64(h.GetScore()),
		})
	}
	return results, nil
}
