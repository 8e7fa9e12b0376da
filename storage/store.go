package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Store persists the board document as one atomic value.
type Store interface {
	Load(ctx context.Context) (domain.Document, error)
	Save(ctx context.Context, doc domain.Document) error
}

// ChangeFunc receives every document a push-capable backend delivers.
type ChangeFunc func(domain.Document)

// Subscriber is implemented by stores able to push changes, including the
// ones written by this process. The returned function stops delivery and
// releases the backend listener; it is safe to call more than once. onError
// may be nil and is called whenever the push channel drops.
type Subscriber interface {
	Subscribe(ctx context.Context, onChange ChangeFunc, onError func(error)) (unsubscribe func(), err error)
}

// ConditionalSaver writes doc only if the stored version still equals
// expected, failing with domain.ErrVersionConflict otherwise.
type ConditionalSaver interface {
	SaveIfVersion(ctx context.Context, doc domain.Document, expected int64) error
}

// StoredSaver is implemented by stores whose backend may rewrite the
// document on save, such as the board server assigning its own version.
// SaveStored returns the document as the backend kept it.
type StoredSaver interface {
	SaveStored(ctx context.Context, doc domain.Document) (domain.Document, error)
}

// Kind names a backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindTable  Kind = "table"
	KindBucket Kind = "bucket"
	KindRedis  Kind = "redis"
	KindServer Kind = "server"
)

// Options selects and configures a backend. Only the fields relevant to
// Kind are read.
type Options struct {
	Kind Kind

	// bucket and server
	EndpointURL      string
	Credential       string
	CredentialHeader string
	PayloadField     string
	StreamURL        string
	HTTPClient       *http.Client

	// table
	ConnectionString string
	Table            string
	Namespace        string

	// redis
	Redis   *redis.Client
	Key     string
	Channel string

	// CacheTTL enables a Redis read cache in front of table and bucket
	// backends when Redis is also set.
	CacheTTL time.Duration

	Logger log.FieldLogger
}

const (
	defaultNamespace        = "board"
	defaultKey              = "board:document"
	defaultChannel          = "board:updates"
	defaultBucketField      = "record"
	defaultBucketHeader     = "X-Master-Key"
	defaultServerPayload    = "data"
	defaultServerCredHeader = "Authorization"
)

// New builds the raw adapter described by opts. Errors from the adapter are
// returned as is; see Open for the fail-soft variant clients use.
func New(opts Options) (Store, error) {
	var (
		st  Store
		err error
	)
	switch opts.Kind {
	case KindMemory, "":
		st = NewMemory()
	case KindTable:
		if opts.ConnectionString == "" || opts.Table == "" {
			return nil, fmt.Errorf("table store needs a connection string and a table name")
		}
		ns := opts.Namespace
		if ns == "" {
			ns = defaultNamespace
		}
		st, err = NewTable(opts.ConnectionString, opts.Table, ns)
	case KindBucket:
		if opts.EndpointURL == "" {
			return nil, fmt.Errorf("bucket store needs an endpoint url")
		}
		st = NewHTTP(HTTPOptions{
			EndpointURL:      opts.EndpointURL,
			Credential:       opts.Credential,
			CredentialHeader: orDefault(opts.CredentialHeader, defaultBucketHeader),
			PayloadField:     orDefault(opts.PayloadField, defaultBucketField),
			Client:           opts.HTTPClient,
		})
	case KindServer:
		if opts.EndpointURL == "" {
			return nil, fmt.Errorf("server store needs an endpoint url")
		}
		st = NewHTTP(HTTPOptions{
			EndpointURL:      opts.EndpointURL,
			Credential:       opts.Credential,
			CredentialHeader: orDefault(opts.CredentialHeader, defaultServerCredHeader),
			PayloadField:     orDefault(opts.PayloadField, defaultServerPayload),
			StreamURL:        opts.StreamURL,
			Client:           opts.HTTPClient,
			Logger:           opts.Logger,
		})
	case KindRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis store needs a redis client")
		}
		st = NewRedis(opts.Redis, orDefault(opts.Key, defaultKey), orDefault(opts.Channel, defaultChannel), opts.Logger)
	default:
		return nil, fmt.Errorf("unknown store kind %q", opts.Kind)
	}
	if err != nil {
		return nil, err
	}
	if opts.Redis != nil && opts.CacheTTL > 0 && (opts.Kind == KindTable || opts.Kind == KindBucket) {
		st = NewCache(st, opts.Redis, orDefault(opts.Key, defaultKey), opts.CacheTTL)
	}
	return st, nil
}

// Open is New wrapped in FailSoft.
func Open(opts Options) (*FailSoft, error) {
	st, err := New(opts)
	if err != nil {
		return nil, err
	}
	return NewFailSoft(st, opts.Logger), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
