package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BlobStore is the content-addressable backup target for profile and face
// data. Store returns a blob ID that Read later resolves; blobs are
// immutable and never deleted by this system.
type BlobStore interface {
	Store(ctx context.Context, content []byte) (string, error)
	Read(ctx context.Context, blobID string) ([]byte, error)
}

// HTTPBlobStore talks to a Walrus-style publisher/aggregator pair:
// PUT {publisher}/v1/store writes a blob, GET {reader}/v1/{blobId} reads
// it back.
type HTTPBlobStore struct {
	publisherURL string
	readerURL    string
	httpClient   *http.Client
}

// NewHTTPBlobStore creates a blob store client for the given endpoints.
func NewHTTPBlobStore(publisherURL, readerURL string) *HTTPBlobStore {
	return &HTTPBlobStore{
		publisherURL: strings.TrimRight(publisherURL, "/"),
		readerURL:    strings.TrimRight(readerURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// storeResponse covers both response shapes the publisher returns: newly
// created blobs and blobs it has already certified.
type storeResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated,omitempty"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
	} `json:"alreadyCertified,omitempty"`
}

// Store uploads content and returns its blob ID.
func (s *HTTPBlobStore) Store(ctx context.Context, content []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		s.publisherURL+"/v1/store", bytes.NewReader(content))
	if err != nil {
		return "", err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob store upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("blob store upload: status %d: %s", resp.StatusCode, body)
	}

	var sr storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("blob store response: %w", err)
	}

	switch {
	case sr.NewlyCreated != nil:
		return sr.NewlyCreated.BlobObject.BlobID, nil
	case sr.AlreadyCertified != nil:
		return sr.AlreadyCertified.BlobID, nil
	default:
		return "", fmt.Errorf("blob store response missing blob id")
	}
}

// Read fetches a blob's content by ID.
func (s *HTTPBlobStore) Read(ctx context.Context, blobID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.readerURL+"/v1/"+blobID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blob store read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob store read: status %d for blob %s", resp.StatusCode, blobID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}
