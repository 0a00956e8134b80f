package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

var metricDistances = map[domain.Metric]pb.Distance{
	domain.MetricCosine: pb.Distance_Cosine,
	domain.MetricDot:    pb.Distance_Dot,
	domain.MetricL2:     pb.Distance_Euclid,
}

// VerifyCollections checks that every configured collection exists and
// uses the distance its source types declare. Problems are returned as
// human-readable findings; only transport failures are errors.
func (i *Index) VerifyCollections(ctx context.Context, groups []domain.CollectionGroup) ([]string, error) {
	var findings []string
	for _, g := range groups {
		resp, err := i.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: g.Collection})
		if err != nil {
			mapped := mapGRPCError("qdrant collection info", err)
			if domain.IsKind(mapped, domain.ErrCollectionNotFound) {
				findings = append(findings, fmt.Sprintf("collection %s not found", g.Collection))
				i.logger.Warn("collection_missing", "collection", g.Collection)
				continue
			}
			return findings, mapped
		}
		params := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
		if params == nil {
			i.logger.Debug("collection_named_vectors_skipped", "collection", g.Collection)
			continue
		}
		if want := metricDistances[g.Metric]; params.GetDistance() != want {
			findings = append(findings, fmt.Sprintf("collection %s uses %s distance, configured %s", g.Collection, params.GetDistance(), g.Metric))
			i.logger.Warn("collection_metric_mismatch",
				"collection", g.Collection,
				"configured", string(g.Metric),
				"actual", params.GetDistance().String(),
			)
		}
	}
	return findings, nil
}
