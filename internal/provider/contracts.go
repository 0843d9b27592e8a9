package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"venueportal/api/internal/comms"
	"venueportal/api/internal/syncer"
)

// Bucket lists and reads parsed contract documents.
type Bucket interface {
	List(ctx context.Context, prefix, startAfter string) ([]string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// ContractsFetcher reads parsed contract JSON objects. Positions are object
// keys, which the bucket lists in lexical order.
type ContractsFetcher struct {
	bucket Bucket
	prefix string
}

func NewContractsFetcher(bucket Bucket, prefix string) *ContractsFetcher {
	return &ContractsFetcher{bucket: bucket, prefix: prefix}
}

func (f *ContractsFetcher) Provider() comms.Provider {
	return comms.ProviderContract
}

func (f *ContractsFetcher) Fetch(ctx context.Context, since syncer.Cursor) ([]syncer.Item, error) {
	keys, err := f.bucket.List(ctx, f.prefix, since.Position)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}

	items := make([]syncer.Item, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") || key <= since.Position {
			continue
		}
		raw, err := f.bucket.Read(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read contract %s: %w", key, err)
		}
		items = append(items, syncer.Item{ExternalID: key, Position: key, Raw: withObjectKey(raw, key)})
	}
	return items, nil
}

// withObjectKey records where the document came from. Undecodable payloads
// pass through untouched so normalization reports them.
func withObjectKey(raw []byte, key string) []byte {
	var payload comms.ContractPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ObjectKey != "" {
		return raw
	}
	payload.ObjectKey = key
	out, err := json.Marshal(payload)
	if err != nil {
		return raw
	}
	return out
}

type MinioBucket struct {
	client *minio.Client
	bucket string
}

func NewMinioBucket(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioBucket, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioBucket{client: client, bucket: bucket}, nil
}

func (b *MinioBucket) List(ctx context.Context, prefix, startAfter string) ([]string, error) {
	var keys []string
	for object := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:     prefix,
		StartAfter: startAfter,
		Recursive:  true,
	}) {
		if object.Err != nil {
			return nil, object.Err
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

func (b *MinioBucket) Read(ctx context.Context, key string) ([]byte, error) {
	object, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()
	return io.ReadAll(io.LimitReader(object, 16<<20))
}
