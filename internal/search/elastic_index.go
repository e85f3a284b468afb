package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"enquiry-service/internal/client"
	"enquiry-service/internal/models"
	"enquiry-service/internal/repository"
)

const (
	// MaxResults caps how many IDs one dashboard search can return
	MaxResults = 10000

	backfillPageSize = 500
)

// ErrNotReady is returned by SearchIDs until the index holds every stored
// enquiry. Callers search the database instead.
var ErrNotReady = errors.New("search index not synchronized")

// Source lists the enquiries that Backfill copies into the index
type Source interface {
	List(ctx context.Context, q repository.ListQuery) ([]models.Enquiry, error)
}

var searchFields = []string{"name", "email", "phone", "subject", "message"}

var wildcardEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

type Document struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewDocument(e *models.Enquiry) Document {
	return Document{
		Name:      e.Name,
		Email:     e.Email,
		Phone:     e.Phone,
		Subject:   e.Subject,
		Message:   e.Message,
		Status:    e.Status,
		CreatedAt: e.CreatedAt,
	}
}

// ElasticIndex mirrors enquiries into Elasticsearch for dashboard search
type ElasticIndex struct {
	es     *client.ESClient
	index  string
	logger *zap.Logger

	ready atomic.Bool
	// failedWrites lets Backfill detect writes that failed while it ran
	failedWrites atomic.Uint64
}

func NewElasticIndex(es *client.ESClient, index string, logger *zap.Logger) *ElasticIndex {
	return &ElasticIndex{es: es, index: index, logger: logger}
}

// EnsureIndex creates the index with wildcard-typed text fields
func (x *ElasticIndex) EnsureIndex(ctx context.Context) error {
	properties := map[string]interface{}{
		"status":    map[string]interface{}{"type": "keyword"},
		"createdAt": map[string]interface{}{"type": "date"},
	}
	for _, field := range searchFields {
		properties[field] = map[string]interface{}{"type": "wildcard"}
	}
	return x.es.EnsureIndex(ctx, x.index, map[string]interface{}{
		"mappings": map[string]interface{}{"properties": properties},
	})
}

// Ready reports whether searches are answered from the index
func (x *ElasticIndex) Ready() bool {
	return x.ready.Load()
}

// Backfill copies every enquiry in source into the index, oldest first,
// and marks the index ready once all of them are written
func (x *ElasticIndex) Backfill(ctx context.Context, source Source) (int, error) {
	start := time.Now()
	failuresBefore := x.failedWrites.Load()
	indexed := 0
	for offset := 0; ; offset += backfillPageSize {
		page, err := source.List(ctx, repository.ListQuery{
			SortField: "createdAt",
			Offset:    offset,
			Limit:     backfillPageSize,
		})
		if err != nil {
			return indexed, fmt.Errorf("failed to list enquiries at offset %d: %w", offset, err)
		}

		docs := make([]client.BulkDocument, 0, len(page))
		for i := range page {
			docs = append(docs, client.BulkDocument{ID: page[i].ID, Document: NewDocument(&page[i])})
		}
		if err := x.es.BulkIndex(ctx, x.index, docs); err != nil {
			return indexed, err
		}
		indexed += len(docs)

		if len(page) < backfillPageSize {
			break
		}
	}

	if x.failedWrites.Load() != failuresBefore {
		return indexed, errors.New("index writes failed during backfill")
	}
	x.ready.Store(true)
	x.logger.Info("Search index synchronized",
		zap.Int("documents", indexed),
		zap.Duration("duration", time.Since(start)))
	return indexed, nil
}

// Index writes one enquiry. A failed write leaves the mirror behind the
// database, so the index stops answering searches until the next Backfill.
func (x *ElasticIndex) Index(ctx context.Context, enquiry *models.Enquiry) error {
	res, err := x.es.IndexDocument(ctx, x.index, enquiry.ID, NewDocument(enquiry))
	if err == nil {
		err = x.es.ParseResponse(res, nil)
	}
	if err != nil {
		x.markStale(err)
	}
	return err
}

func (x *ElasticIndex) Delete(ctx context.Context, id string) error {
	res, err := x.es.DeleteDocument(ctx, x.index, id)
	if err != nil {
		x.markStale(err)
		return err
	}
	if res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil
	}
	if err := x.es.ParseResponse(res, nil); err != nil {
		x.markStale(err)
		return err
	}
	return nil
}

func (x *ElasticIndex) markStale(err error) {
	x.failedWrites.Add(1)
	if x.ready.Swap(false) {
		x.logger.Warn("Search index out of sync, searching the database until the next backfill", zap.Error(err))
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchIDs returns the IDs of enquiries where any text field contains term,
// ignoring case
func (x *ElasticIndex) SearchIDs(ctx context.Context, term string) ([]string, error) {
	if !x.ready.Load() {
		return nil, ErrNotReady
	}
	pattern := "*" + wildcardEscaper.Replace(term) + "*"

	should := make([]interface{}, 0, len(searchFields))
	for _, field := range searchFields {
		should = append(should, map[string]interface{}{
			"wildcard": map[string]interface{}{
				field: map[string]interface{}{
					"value":            pattern,
					"case_insensitive": true,
				},
			},
		})
	}

	query := map[string]interface{}{
		"size":    MaxResults,
		"_source": false,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
	}

	res, err := x.es.Search(ctx, x.index, query)
	if err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := x.es.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		ids = append(ids, hit.ID)
	}
	x.logger.Debug("Dashboard search answered by Elasticsearch",
		zap.Int("hits", len(ids)))
	return ids, nil
}

func (x *ElasticIndex) HealthCheck(ctx context.Context) error {
	return x.es.HealthCheck(ctx)
}
