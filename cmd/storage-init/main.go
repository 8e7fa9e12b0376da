package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"prism-board/config"
	"prism-board/domain"
	"prism-board/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	if cfg.ConnectionString == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	ctx := context.Background()

	svc, err := aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		log.Fatalf("table service: %v", err)
	}
	createTable := func(ctx context.Context, name string) error {
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		return err
	}
	if err := ensure(ctx, []string{cfg.Table}, createTable, string(aztables.TableAlreadyExists)); err != nil {
		log.Fatalf("create tables: %v", err)
	}

	createQueue := func(ctx context.Context, name string) error {
		q, err := azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		return err
	}
	if err := ensure(ctx, []string{cfg.ReminderQueue}, createQueue, "QueueAlreadyExists"); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	if cfg.StoreKind == storage.KindTable {
		opts, err := cfg.StoreOptions(nil)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		opts.Logger = log.StandardLogger()
		if err := seed(ctx, opts); err != nil {
			log.Fatalf("seed board: %v", err)
		}
	}

	log.Info("storage init complete")
}

// ensure creates every named resource, treating alreadyExists as success.
// Blank names are skipped.
func ensure(ctx context.Context, names []string, create func(context.Context, string) error, alreadyExists string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := create(ctx, name); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == alreadyExists) {
				return err
			}
			log.WithField("name", name).Debug("already exists")
			continue
		}
		log.WithField("name", name).Info("created")
	}
	return nil
}

// seed writes the default board when the table holds none yet.
func seed(ctx context.Context, opts storage.Options) error {
	st, err := storage.New(opts)
	if err != nil {
		return err
	}
	return seedStore(ctx, st)
}

func seedStore(ctx context.Context, st storage.Store) error {
	if _, err := st.Load(ctx); err == nil || !errors.Is(err, domain.ErrNoData) {
		return err
	}
	doc := domain.Seed()
	doc.LastUpdated = domain.Timestamp(time.Now())
	if err := st.Save(ctx, doc); err != nil {
		return err
	}
	log.WithField("boards", len(doc.Boards)).Info("default board written")
	return nil
}
