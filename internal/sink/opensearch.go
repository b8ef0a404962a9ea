package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/zaphod7777/Phishfindr/internal/config"
	"github.com/zaphod7777/Phishfindr/internal/event"
	"github.com/zaphod7777/Phishfindr/internal/logging"
)

// OpenSearch indexes events into daily indices named
// <prefix>-YYYY.MM.DD (UTC). An index is created lazily, with a typed
// mapping, on the first write of each day. The event id is the document
// id, so redelivery overwrites rather than duplicates.
type OpenSearch struct {
	client *opensearch.Client
	prefix string
	log    *logging.Logger

	known map[string]bool
	now   func() time.Time
}

// NewOpenSearch connects to the cluster and verifies it is reachable.
func NewOpenSearch(cfg config.OpenSearchConfig, log *logging.Logger) (*OpenSearch, error) {
	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	return &OpenSearch{
		client: client,
		prefix: cfg.IndexPrefix,
		log:    log,
		known:  make(map[string]bool),
		now:    time.Now,
	}, nil
}

func (s *OpenSearch) Name() string { return "search" }

// indexName returns the daily bucket for t.
func (s *OpenSearch) indexName(t time.Time) string {
	return fmt.Sprintf("%s-%s", s.prefix, t.UTC().Format("2006.01.02"))
}

func (s *OpenSearch) Write(ctx context.Context, ev event.Event) error {
	index := s.indexName(s.now())
	if err := s.ensureIndex(ctx, index); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID(), err)
	}

	res, err := s.client.Index(
		index,
		bytes.NewReader(data),
		s.client.Index.WithDocumentID(ev.ID()),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index event %s: %w", ev.ID(), err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("index event %s: %s - %s", ev.ID(), res.Status(), string(body))
	}
	return nil
}

// WriteBatch submits one bulk request and returns aggregate counts. Item
// failures do not abort the rest of the batch.
func (s *OpenSearch) WriteBatch(ctx context.Context, events []event.Event) (BatchResult, error) {
	var result BatchResult
	if len(events) == 0 {
		return result, nil
	}

	// The indexer invokes the item callbacks from its worker goroutine
	// while this goroutine keeps adding, so the counters need a lock.
	var mu sync.Mutex

	index := s.indexName(s.now())
	if err := s.ensureIndex(ctx, index); err != nil {
		result.Failed = len(events)
		return result, err
	}

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:     s.client,
		Index:      index,
		NumWorkers: 1,
	})
	if err != nil {
		result.Failed = len(events)
		return result, fmt.Errorf("create bulk indexer: %w", err)
	}

	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			mu.Lock()
			result.Failed++
			mu.Unlock()
			s.log.Error("failed to marshal event for bulk index", "id", ev.ID(), "error", err)
			continue
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: ev.ID(),
			Body:       bytes.NewReader(data),
			OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
				mu.Lock()
				result.Written++
				mu.Unlock()
			},
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				mu.Lock()
				result.Failed++
				mu.Unlock()
				if err != nil {
					s.log.Error("bulk index item failed", "id", item.DocumentID, "error", err)
				} else {
					s.log.Error("bulk index item failed", "id", item.DocumentID, "type", res.Error.Type, "reason", res.Error.Reason)
				}
			},
		})
		if err != nil {
			mu.Lock()
			result.Failed++
			mu.Unlock()
			s.log.Error("failed to add event to bulk indexer", "id", ev.ID(), "error", err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return result, fmt.Errorf("flush bulk indexer: %w", err)
	}
	return result, nil
}

func (s *OpenSearch) ensureIndex(ctx context.Context, name string) error {
	if s.known[name] {
		return nil
	}

	exists, err := s.client.Indices.Exists(
		[]string{name},
		s.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}
	exists.Body.Close()

	if exists.StatusCode == http.StatusOK {
		s.known[name] = true
		return nil
	}

	body, err := json.Marshal(indexMapping())
	if err != nil {
		return err
	}

	res, err := s.client.Indices.Create(
		name,
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		// Lost race against another writer creating the same daily index.
		if bytes.Contains(payload, []byte("resource_already_exists_exception")) {
			s.known[name] = true
			return nil
		}
		return fmt.Errorf("create index %s: %s - %s", name, res.Status(), string(payload))
	}

	s.log.Info("created daily index", "index", name)
	s.known[name] = true
	return nil
}

// indexMapping is the fixed field-type mapping applied to every daily
// index.
func indexMapping() map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}
	integer := map[string]interface{}{"type": "integer"}

	return map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				event.FieldID:             keyword,
				event.FieldTimestamp:      map[string]interface{}{"type": "date"},
				event.FieldEventType:      keyword,
				event.FieldOperation:      keyword,
				event.FieldStatus:         keyword,
				event.FieldStatusDetail:   keyword,
				event.FieldUserID:         keyword,
				event.FieldUserKey:        keyword,
				event.FieldUserType:       integer,
				event.FieldOrganizationID: keyword,
				event.FieldIPAddress:      map[string]interface{}{"type": "ip"},
				event.FieldWorkload:       keyword,
				event.FieldUserAgent:      map[string]interface{}{"type": "text"},
				event.FieldRequestType:    keyword,
				event.FieldOS:             keyword,
				event.FieldBrowser:        keyword,
				event.FieldSessionID:      keyword,
				event.FieldApplicationID:  keyword,
				event.FieldRecordType:     integer,
				event.FieldVersion:        integer,
				event.FieldErrorNumber:    keyword,
				event.FieldAzureEventType: integer,
			},
		},
	}
}

func (s *OpenSearch) Close(ctx context.Context) error {
	return nil
}
