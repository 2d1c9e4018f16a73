package assets

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileStore persists assets on the local filesystem under a base path
// and mints HMAC-signed, time-limited download URLs served by the
// fable server's /assets endpoint.
type FileStore struct {
	basePath   string
	publicURL  string
	secret     []byte
	defaultTTL time.Duration
}

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	BasePath   string
	PublicURL  string // base URL of the serving endpoint, e.g. http://localhost:8080
	Secret     string // HMAC signing key
	DefaultTTL time.Duration
}

// NewFileStore initializes a FileStore rooted at BasePath.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if strings.TrimSpace(cfg.BasePath) == "" {
		return nil, errors.New("assets: base path is required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("assets: signing secret is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("assets: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:   cfg.BasePath,
		publicURL:  strings.TrimSuffix(cfg.PublicURL, "/"),
		secret:     []byte(cfg.Secret),
		defaultTTL: cfg.DefaultTTL,
	}, nil
}

// UploadBuffer persists data at key, overwriting any previous object.
func (s *FileStore) UploadBuffer(ctx context.Context, key string, data []byte, contentType string) (Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return Descriptor{}, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return Descriptor{}, err
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Descriptor{}, fmt.Errorf("assets: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Descriptor{}, fmt.Errorf("assets: write object: %w", err)
	}

	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	signed, err := s.SignedURL(cleanKey, 0)
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{
		Key:         cleanKey,
		URL:         s.publicURL + "/assets/" + cleanKey,
		SignedURL:   signed,
		Size:        int64(len(data)),
		ContentType: contentType,
		UploadedAt:  time.Now().UTC(),
		Filename:    filepath.Base(cleanKey),
	}, nil
}

// DownloadByKey returns the stored bytes for key, or ErrNotFound.
func (s *FileStore) DownloadByKey(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cleanKey)
	}
	if err != nil {
		return nil, fmt.Errorf("assets: read object: %w", err)
	}
	return data, nil
}

// SignedURL mints a time-limited URL for key.
func (s *FileStore) SignedURL(key string, ttl time.Duration) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	exp := time.Now().Add(ttl).Unix()
	sig := s.sign(cleanKey, exp)
	return fmt.Sprintf("%s/assets/%s?exp=%d&sig=%s", s.publicURL, cleanKey, exp, sig), nil
}

// VerifySignature checks a signed request against the store's secret.
// Used by the asset-serving endpoint.
func (s *FileStore) VerifySignature(key, expStr, sig string) bool {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return false
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix() > exp {
		return false
	}
	expected := s.sign(cleanKey, exp)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (s *FileStore) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", key, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("assets: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("assets: invalid key")
	}
	return cleaned, nil
}
