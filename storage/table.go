package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"prism-board/domain"
)

const (
	documentRowKey = "document"
	edmInt64       = "Edm.Int64"
)

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
}

// TableStore keeps the document in a single Azure Table entity. The document
// travels as a JSON string property next to its version so conditional
// writes can compare versions without decoding boards.
type TableStore struct {
	table     tableClient
	partition string
}

type documentEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Document     string `json:"Document"`
	Version      int64  `json:"Version,string"`
	VersionType  string `json:"Version@odata.type"`
}

// NewTable connects to table in the account described by connStr.
func NewTable(connStr, table, namespace string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newTableStore(svc.NewClient(table), namespace), nil
}

func newTableStore(client tableClient, namespace string) *TableStore {
	return &TableStore{table: client, partition: namespace}
}

func (s *TableStore) Load(ctx context.Context) (domain.Document, error) {
	ent, _, err := s.get(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	return decodeDocument([]byte(ent.Document))
}

func (s *TableStore) Save(ctx context.Context, doc domain.Document) error {
	payload, err := s.entity(doc)
	if err != nil {
		return err
	}
	if _, err := s.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSave, err)
	}
	return nil
}

// SaveIfVersion compares the stored version with expected and replaces the
// entity under its ETag, so a writer racing between the read and the write
// also gets a conflict.
func (s *TableStore) SaveIfVersion(ctx context.Context, doc domain.Document, expected int64) error {
	payload, err := s.entity(doc)
	if err != nil {
		return err
	}
	ent, etag, err := s.get(ctx)
	switch {
	case errors.Is(err, domain.ErrNoData):
		if expected != 0 {
			return fmt.Errorf("%w: nothing stored, expected version %d", domain.ErrVersionConflict, expected)
		}
		if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
			if statusCode(err) == http.StatusConflict {
				return fmt.Errorf("%w: document created concurrently", domain.ErrVersionConflict)
			}
			return fmt.Errorf("%w: %v", domain.ErrSave, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", domain.ErrSave, err)
	}
	if ent.Version != expected {
		return fmt.Errorf("%w: stored version %d, expected %d", domain.ErrVersionConflict, ent.Version, expected)
	}
	_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		if statusCode(err) == http.StatusPreconditionFailed {
			return fmt.Errorf("%w: entity changed since read", domain.ErrVersionConflict)
		}
		return fmt.Errorf("%w: %v", domain.ErrSave, err)
	}
	return nil
}

func (s *TableStore) get(ctx context.Context) (documentEntity, azcore.ETag, error) {
	resp, err := s.table.GetEntity(ctx, s.partition, documentRowKey, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return documentEntity{}, "", domain.ErrNoData
		}
		return documentEntity{}, "", fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}
	var ent documentEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return documentEntity{}, "", fmt.Errorf("%w: decode entity: %v", domain.ErrLoad, err)
	}
	if ent.Document == "" {
		return documentEntity{}, "", domain.ErrNoData
	}
	return ent, resp.ETag, nil
}

func (s *TableStore) entity(doc domain.Document) ([]byte, error) {
	body, err := encodeDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", domain.ErrSave, err)
	}
	payload, err := sonic.Marshal(documentEntity{
		PartitionKey: s.partition,
		RowKey:       documentRowKey,
		Document:     string(body),
		Version:      doc.Version,
		VersionType:  edmInt64,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode entity: %v", domain.ErrSave, err)
	}
	return payload, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}
