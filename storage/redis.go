package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// RedisStore keeps the document under one key and publishes every saved
// document on a pub/sub channel, which is what Subscribe listens to.
type RedisStore struct {
	rc      *redis.Client
	key     string
	channel string
	log     log.FieldLogger
}

// NewRedis returns a store over rc. A nil logger uses the standard logger.
func NewRedis(rc *redis.Client, key, channel string, logger log.FieldLogger) *RedisStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisStore{rc: rc, key: key, channel: channel, log: logger}
}

func (s *RedisStore) Load(ctx context.Context) (domain.Document, error) {
	data, err := s.rc.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Document{}, domain.ErrNoData
		}
		return domain.Document{}, fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}
	return decodeDocument(data)
}

func (s *RedisStore) Save(ctx context.Context, doc domain.Document) error {
	payload, err := encodeDocument(doc)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", domain.ErrSave, err)
	}
	_, err = s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key, payload, 0)
		pipe.Publish(ctx, s.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSave, err)
	}
	return nil
}

// SaveIfVersion writes inside WATCH/MULTI so a concurrent writer touching the
// key between the version check and the write aborts the transaction.
func (s *RedisStore) SaveIfVersion(ctx context.Context, doc domain.Document, expected int64) error {
	payload, err := encodeDocument(doc)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", domain.ErrSave, err)
	}
	err = s.rc.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		data, err := tx.Get(ctx, s.key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			stored, err := decodeDocument(data)
			if err != nil && !errors.Is(err, domain.ErrNoData) {
				return err
			}
			current = stored.Version
		}
		if current != expected {
			return fmt.Errorf("%w: stored version %d, expected %d", domain.ErrVersionConflict, current, expected)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, payload, 0)
			pipe.Publish(ctx, s.channel, payload)
			return nil
		})
		return err
	}, s.key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrVersionConflict):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: key changed during write", domain.ErrVersionConflict)
	default:
		return fmt.Errorf("%w: %v", domain.ErrSave, err)
	}
}

func (s *RedisStore) Subscribe(ctx context.Context, onChange ChangeFunc, onError func(error)) (func(), error) {
	subCtx, cancel := context.WithCancel(context.Background())
	sub := s.rc.Subscribe(subCtx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrSubscription, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					if subCtx.Err() == nil {
						s.log.WithField("channel", s.channel).Error("board pubsub channel closed")
						if onError != nil {
							onError(fmt.Errorf("%w: channel %s closed", domain.ErrSubscription, s.channel))
						}
					}
					return
				}
				doc, err := decodeDocument([]byte(msg.Payload))
				if err != nil {
					s.log.WithError(err).WithField("channel", s.channel).Error("unable to parse board update")
					continue
				}
				onChange(doc)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = sub.Close()
			<-done
		})
	}, nil
}
