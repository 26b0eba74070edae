package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/tencentyun/cos-go-sdk-v5"
)

const (
	listPageSize  = 1000
	defaultDomain = "myqcloud.com"
	defaultScheme = "https"
)

// COSConfig addresses a Tencent Cloud COS bucket.
type COSConfig struct {
	Bucket    string
	Region    string
	SecretID  string
	SecretKey string
	Domain    string // default myqcloud.com
	Scheme    string // default https
	// Endpoint replaces the bucket URL derived from the fields above.
	Endpoint string
}

// bucketURL is <scheme>://<bucket>.cos.<region>.<domain> unless an
// explicit endpoint is set.
func (c *COSConfig) bucketURL() (*url.URL, error) {
	if c.Endpoint != "" {
		return url.Parse(c.Endpoint)
	}
	domain, scheme := c.Domain, c.Scheme
	if domain == "" {
		domain = defaultDomain
	}
	if scheme == "" {
		scheme = defaultScheme
	}
	return url.Parse(fmt.Sprintf("%s://%s.cos.%s.%s", scheme, c.Bucket, c.Region, domain))
}

// COSStorage stores objects in a COS bucket.
type COSStorage struct {
	client *cos.Client
	base   *url.URL
}

func NewCOSStorage(cfg *COSConfig) (*COSStorage, error) {
	switch {
	case cfg.Bucket == "" || cfg.Region == "":
		return nil, errors.New("bucket and region are required for COS storage")
	case cfg.SecretID == "" || cfg.SecretKey == "":
		return nil, errors.New("credentials are required for COS storage")
	}
	base, err := cfg.bucketURL()
	if err != nil {
		return nil, fmt.Errorf("failed to parse bucket URL: %w", err)
	}
	transport := &cos.AuthorizationTransport{SecretID: cfg.SecretID, SecretKey: cfg.SecretKey}
	return &COSStorage{
		client: cos.NewClient(&cos.BaseURL{BucketURL: base}, &http.Client{Transport: transport}),
		base:   base,
	}, nil
}

func (s *COSStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	k, err := CleanKey(key)
	if err != nil {
		return err
	}
	if _, err := s.client.Object.Put(ctx, k, reader, nil); err != nil {
		return storageError("upload", key, err)
	}
	return nil
}

func (s *COSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Object.Get(ctx, k, nil)
	switch {
	case err == nil:
		return resp.Body, nil
	case cos.IsNotFoundError(err):
		return nil, notFound(key)
	default:
		return nil, storageError("download", key, err)
	}
}

func (s *COSStorage) Delete(ctx context.Context, key string) error {
	k, err := CleanKey(key)
	if err != nil {
		return err
	}
	if _, err := s.client.Object.Delete(ctx, k, nil); err != nil && !cos.IsNotFoundError(err) {
		return storageError("delete", key, err)
	}
	return nil
}

func (s *COSStorage) Exists(ctx context.Context, key string) (bool, error) {
	k, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	found, err := s.client.Object.IsExist(ctx, k)
	if err != nil {
		return false, storageError("check", key, err)
	}
	return found, nil
}

// List follows listing markers until the bucket reports no more pages.
func (s *COSStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	opt := &cos.BucketGetOptions{Prefix: prefix, MaxKeys: listPageSize}
	for {
		page, _, err := s.client.Bucket.Get(ctx, opt)
		if err != nil {
			return nil, storageError("list", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, obj.Key)
		}
		if !page.IsTruncated || len(page.Contents) == 0 {
			break
		}
		// Older endpoints omit NextMarker; the last key continues the listing.
		opt.Marker = page.NextMarker
		if opt.Marker == "" {
			opt.Marker = page.Contents[len(page.Contents)-1].Key
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *COSStorage) GetURL(key string) string {
	return s.base.JoinPath(key).String()
}
