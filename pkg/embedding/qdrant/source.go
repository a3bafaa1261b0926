// Package qdrant serves object embeddings stored as Qdrant points.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Config holds Qdrant-specific configuration.
type Config struct {
	// Host is the Qdrant server host name.
	Host string

	// APIKey is sent as the api-key header when set.
	APIKey string

	// Collection holds one point per object.
	Collection string

	// PayloadKey is the payload field carrying the object id (default: object_id).
	PayloadKey string

	// UseTLS enables TLS for the connection
	UseTLS bool

	// GRPCPort is the gRPC port (default: 6334)
	GRPCPort int

	// PageSize bounds points per scroll request (default: 256).
	PageSize uint32
}

// Source fetches embeddings from a Qdrant collection. It satisfies
// embedding.Source.
type Source struct {
	cfg    Config
	conn   *grpc.ClientConn
	points pb.PointsClient
}

// NewSource connects to Qdrant.
func NewSource(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	// Apply defaults
	if cfg.GRPCPort <= 0 {
		cfg.GRPCPort = 6334
	}
	if cfg.PayloadKey == "" {
		cfg.PayloadKey = "object_id"
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 256
	}

	var opts []grpc.DialOption
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.GRPCPort)
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", addr, err)
	}

	return newSource(cfg, conn, pb.NewPointsClient(conn)), nil
}

func newSource(cfg Config, conn *grpc.ClientConn, points pb.PointsClient) *Source {
	return &Source{cfg: cfg, conn: conn, points: points}
}

// Fetch scrolls through the points whose payload object id is one of ids.
// A nil ids slice scrolls the whole collection.
func (s *Source) Fetch(ctx context.Context, ids []string) (map[string][]float32, error) {
	if s.cfg.APIKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", s.cfg.APIKey)
	}

	out := make(map[string][]float32, len(ids))
	if ids != nil && len(ids) == 0 {
		return out, nil
	}

	limit := s.cfg.PageSize
	req := &pb.ScrollPoints{
		CollectionName: s.cfg.Collection,
		Filter:         idFilter(s.cfg.PayloadKey, ids),
		Limit:          &limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
		WithVectors: &pb.WithVectorsSelector{
			SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
		},
	}

	for {
		resp, err := s.points.Scroll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("scroll failed: %w", err)
		}

		for _, point := range resp.Result {
			id := objectID(point, s.cfg.PayloadKey)
			if id == "" {
				continue
			}
			if point.Vectors == nil {
				continue
			}
			if vec := point.Vectors.GetVector(); vec != nil && len(vec.Data) > 0 {
				out[id] = vec.Data
			}
		}

		if resp.NextPageOffset == nil {
			break
		}
		req.Offset = resp.NextPageOffset
	}

	return out, nil
}

// Close releases resources.
func (s *Source) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// idFilter matches points whose payload key equals any of ids.
func idFilter(key string, ids []string) *pb.Filter {
	if len(ids) == 0 {
		return nil
	}
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: key,
					Match: &pb.Match{
						MatchValue: &pb.Match_Keywords{
							Keywords: &pb.RepeatedStrings{Strings: ids},
						},
					},
				},
			},
		}},
	}
}

// objectID reads the object id from the payload, falling back to the
// point id.
func objectID(point *pb.RetrievedPoint, key string) string {
	if v, ok := point.Payload[key]; ok {
		if s, ok := v.Kind.(*pb.Value_StringValue); ok && s.StringValue != "" {
			return s.StringValue
		}
	}
	if point.Id != nil {
		switch id := point.Id.PointIdOptions.(type) {
		case *pb.PointId_Num:
			return fmt.Sprintf("%d", id.Num)
		case *pb.PointId_Uuid:
			return id.Uuid
		}
	}
	return ""
}
