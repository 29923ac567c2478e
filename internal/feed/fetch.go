package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	appLog "roomcheck/internal/log"
)

const feedBucket = "lecture_feed"

var (
	metaKey = []byte("meta")
	bodyKey = []byte("body")
)

// FetchResult is the outcome of one lecture feed fetch.
type FetchResult struct {
	URL       string
	Body      []byte // XML payload, fresh or cached
	FromCache bool   // true when the cached body was reused
	FetchedAt time.Time
}

// cacheEntry holds HTTP validators for the cached body.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LectureFetcher downloads the lecture feed with conditional requests and
// keeps the last good body in a bbolt file.
type LectureFetcher struct {
	client    *http.Client
	cachePath string
}

// NewLectureFetcher creates a fetcher. An empty cachePath disables caching.
func NewLectureFetcher(cachePath string, timeout time.Duration) *LectureFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LectureFetcher{
		client:    &http.Client{Timeout: timeout},
		cachePath: cachePath,
	}
}

// Fetch downloads feedURL, honoring ETag and Last-Modified. On a network
// error or a non-OK status the cached body is returned when one exists.
func (f *LectureFetcher) Fetch(ctx context.Context, feedURL string) (FetchResult, error) {
	if feedURL == "" {
		return FetchResult{}, errors.New("feed URL is empty")
	}

	db, err := f.open()
	if err != nil {
		// A broken cache must not stop the refresh.
		appLog.Error("lecture cache open failed", err, "path", f.cachePath)
	}
	if db != nil {
		defer db.Close()
	}

	meta, cachedBody := loadCache(db, feedURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Info("lecture fetch start", "url", redactURL(feedURL))

	cached := FetchResult{URL: feedURL, Body: cachedBody, FromCache: true, FetchedAt: meta.UpdatedAt}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("lecture fetch network error, using cached body", err, "url", redactURL(feedURL))
			return cached, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}
		newMeta := cacheEntry{
			URL:          feedURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := saveCache(db, newMeta, body); err != nil {
			appLog.Error("lecture cache save failed", err, "url", redactURL(feedURL))
		}
		appLog.Info("lecture fetch success", "url", redactURL(feedURL), "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{URL: feedURL, Body: body, FetchedAt: newMeta.UpdatedAt}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("lecture fetch not modified; using cache", "url", redactURL(feedURL))
		return cached, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("lecture fetch non-OK, using cached body", errors.New(resp.Status), "url", redactURL(feedURL), "status", resp.StatusCode)
			return cached, nil
		}
		return FetchResult{}, errors.New(resp.Status)
	}
}

func (f *LectureFetcher) open() (*bolt.DB, error) {
	if f.cachePath == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(f.cachePath), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(f.cachePath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open cache %s: %w", f.cachePath, err)
	}
	return db, nil
}

func urlKey(u string) []byte {
	sum := sha256.Sum256([]byte(u))
	return []byte(hex.EncodeToString(sum[:8]))
}

func loadCache(db *bolt.DB, feedURL string) (cacheEntry, []byte) {
	var (
		meta cacheEntry
		body []byte
	)
	if db == nil {
		return meta, nil
	}
	err := db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(feedBucket))
		if root == nil {
			return nil
		}
		b := root.Bucket(urlKey(feedURL))
		if b == nil {
			return nil
		}
		if raw := b.Get(metaKey); raw != nil {
			if err := json.Unmarshal(raw, &meta); err != nil {
				return err
			}
		}
		// Values are only valid inside the transaction.
		body = append([]byte(nil), b.Get(bodyKey)...)
		return nil
	})
	if err != nil {
		appLog.Error("lecture cache read failed", err, "url", redactURL(feedURL))
		return cacheEntry{}, nil
	}
	return meta, body
}

// saveCache stores body and validators in one transaction, so the validators
// never describe a body that is not there.
func saveCache(db *bolt.DB, meta cacheEntry, body []byte) error {
	if db == nil {
		return nil
	}
	data, err := json.Marshal(&meta)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(feedBucket))
		if err != nil {
			return fmt.Errorf("unable to create bucket %s: %w", feedBucket, err)
		}
		b, err := root.CreateBucketIfNotExists(urlKey(meta.URL))
		if err != nil {
			return err
		}
		if err := b.Put(bodyKey, body); err != nil {
			return err
		}
		return b.Put(metaKey, data)
	})
}

// redactURL hides the path and query of a URL for logging.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "feed://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
