package chunkstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// PineconeConfig configures the Pinecone-backed Store. Either Host (the
// index data-plane URL) or Index must be set; with only Index the host is
// resolved once through the controller API.
type PineconeConfig struct {
	APIKey        string
	Index         string
	Host          string
	ControllerURL string
	Timeout       time.Duration
}

// Pinecone talks to Pinecone's REST data plane.
type Pinecone struct {
	cfg    PineconeConfig
	client *http.Client
	logger *log.Logger

	mu   sync.RWMutex
	host string
}

// NewPinecone builds the adapter. The API key is required; host resolution
// is deferred to the first call so construction never does I/O.
func NewPinecone(cfg PineconeConfig, logger *log.Logger) (*Pinecone, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("pinecone: api key is required")
	}
	if strings.TrimSpace(cfg.Host) == "" && strings.TrimSpace(cfg.Index) == "" {
		return nil, fmt.Errorf("pinecone: either host or index must be configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ControllerURL == "" {
		cfg.ControllerURL = "https://api.pinecone.io"
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[PINECONE] ", log.LstdFlags)
	}
	return &Pinecone{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		host:   strings.TrimRight(strings.TrimSpace(cfg.Host), "/"),
	}, nil
}

func (p *Pinecone) ensureHost(ctx context.Context) error {
	p.mu.RLock()
	if p.host != "" {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	endpoint := fmt.Sprintf("%s/indexes/%s", strings.TrimRight(p.cfg.ControllerURL, "/"), url.PathEscape(p.cfg.Index))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pinecone describe index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pinecone describe index: status=%d body=%s", resp.StatusCode, string(raw))
	}
	var describe struct {
		Host string `json:"host"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&describe); err != nil {
		return fmt.Errorf("pinecone describe index: decode: %w", err)
	}
	host := strings.TrimSpace(describe.Host)
	if host == "" {
		return fmt.Errorf("pinecone describe index: empty host for %q", p.cfg.Index)
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}

	p.mu.Lock()
	p.host = strings.TrimRight(host, "/")
	p.mu.Unlock()
	p.logger.Printf("resolved index %q to %s", p.cfg.Index, host)
	return nil
}

func (p *Pinecone) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	if err := p.ensureHost(ctx); err != nil {
		return err
	}
	p.mu.RLock()
	endpoint := p.host + path
	p.mu.RUnlock()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pinecone %s %s: status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type pineconeVector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (p *Pinecone) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	vectors := make([]pineconeVector, 0, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("pinecone upsert: record %d has empty id", i)
		}
		if len(rec.Values) == 0 {
			return fmt.Errorf("pinecone upsert: record %q has no vector", rec.ID)
		}
		vectors = append(vectors, pineconeVector{ID: rec.ID, Values: rec.Values, Metadata: rec.Metadata})
	}
	req := struct {
		Vectors   []pineconeVector `json:"vectors"`
		Namespace string           `json:"namespace,omitempty"`
	}{Vectors: vectors, Namespace: namespace}
	return p.doJSON(ctx, http.MethodPost, "/vectors/upsert", req, nil)
}

func (p *Pinecone) Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("pinecone query: vector is required")
	}
	if topK < 1 {
		topK = 1
	}
	req := struct {
		Vector          []float32 `json:"vector"`
		TopK            int       `json:"topK"`
		Namespace       string    `json:"namespace,omitempty"`
		IncludeMetadata bool      `json:"includeMetadata"`
	}{Vector: vector, TopK: topK, Namespace: namespace, IncludeMetadata: includeMetadata}

	var resp struct {
		Matches []struct {
			ID       string            `json:"id"`
			Score    float64           `json:"score"`
			Metadata map[string]string `json:"metadata,omitempty"`
		} `json:"matches"`
	}
	if err := p.doJSON(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		out = append(out, Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return out, nil
}

func (p *Pinecone) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	if len(ids) == 0 {
		return map[string]Record{}, nil
	}
	q := url.Values{}
	for _, id := range ids {
		q.Add("ids", id)
	}
	if namespace != "" {
		q.Set("namespace", namespace)
	}
	var resp struct {
		Vectors map[string]pineconeVector `json:"vectors"`
	}
	if err := p.doJSON(ctx, http.MethodGet, "/vectors/fetch?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(resp.Vectors))
	for id, vec := range resp.Vectors {
		out[id] = Record{ID: id, Values: vec.Values, Metadata: vec.Metadata}
	}
	return out, nil
}

// ListIDs pages through the namespace with the list endpoint. limit <= 0
// lists everything; the per-page cap stays at the API maximum of 100.
func (p *Pinecone) ListIDs(ctx context.Context, namespace string, limit int) ([]string, error) {
	var (
		ids   []string
		token string
	)
	for {
		q := url.Values{}
		if namespace != "" {
			q.Set("namespace", namespace)
		}
		q.Set("limit", "100")
		if token != "" {
			q.Set("paginationToken", token)
		}
		var resp struct {
			Vectors []struct {
				ID string `json:"id"`
			} `json:"vectors"`
			Pagination struct {
				Next string `json:"next"`
			} `json:"pagination"`
		}
		if err := p.doJSON(ctx, http.MethodGet, "/vectors/list?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}
		for _, v := range resp.Vectors {
			ids = append(ids, v.ID)
			if limit > 0 && len(ids) >= limit {
				return ids, nil
			}
		}
		token = resp.Pagination.Next
		if token == "" || len(resp.Vectors) == 0 {
			return ids, nil
		}
	}
}

func (p *Pinecone) Ping(ctx context.Context) error {
	var resp struct {
		TotalVectorCount int `json:"totalVectorCount"`
	}
	return p.doJSON(ctx, http.MethodPost, "/describe_index_stats", struct{}{}, &resp)
}

var _ Store = (*Pinecone)(nil)
