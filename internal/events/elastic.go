package events

import (
	"context"
	"fmt"
	"time"

	"phone-auth-service/internal/models"
)

// DocumentStore is satisfied by client.ESClient.
type DocumentStore interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
	Search(ctx context.Context, index string, query map[string]interface{}, target interface{}) error
}

type DateBucketer interface {
	DateBucket(t time.Time) string
}

// ElasticIndexer stores events in daily indices named <prefix>-YYYY.MM.DD.
type ElasticIndexer struct {
	store   DocumentStore
	prefix  string
	buckets DateBucketer
}

func NewElasticIndexer(store DocumentStore, prefix string, buckets DateBucketer) *ElasticIndexer {
	return &ElasticIndexer{store: store, prefix: prefix, buckets: buckets}
}

func (e *ElasticIndexer) Publish(ctx context.Context, event *models.SecurityEvent) error {
	index := e.prefix + "-" + e.buckets.DateBucket(event.OccurredAt)
	if err := e.store.IndexDocument(ctx, index, event.EventID, event); err != nil {
		return fmt.Errorf("failed to index security event: %w", err)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.SecurityEvent `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Recent returns the newest events for a phone hash across all daily
// indices.
func (e *ElasticIndexer) Recent(ctx context.Context, phoneHash string, limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := map[string]interface{}{
		"size": limit,
		"sort": []interface{}{
			map[string]interface{}{"occurredAt": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"term": map[string]interface{}{"phoneHash.keyword": phoneHash},
		},
	}

	var res searchResponse
	if err := e.store.Search(ctx, e.prefix+"-*", query, &res); err != nil {
		return nil, fmt.Errorf("failed to search security events: %w", err)
	}

	out := make([]models.SecurityEvent, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}
