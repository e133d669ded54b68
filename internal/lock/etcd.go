package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Etcd is a Locker shared by every replica connected to the same cluster.
// An etcd mutex is reentrant within one session, so holders in this process
// queue on a KeyedMutex before contending in etcd.
type Etcd struct {
	client  *clientv3.Client
	session *concurrency.Session
	prefix  string
	logger  *slog.Logger

	local   *KeyedMutex
	acquire func(ctx context.Context, key string) (Unlock, error)
}

// EtcdConfig holds etcd locker configuration.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	// SessionTTL bounds how long a crashed holder keeps its locks.
	SessionTTL time.Duration
	Prefix     string
}

// NewEtcd connects to etcd and opens a lease-backed session.
func NewEtcd(cfg EtcdConfig, logger *slog.Logger) (*Etcd, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ttl := int(cfg.SessionTTL / time.Second)
	if ttl <= 0 {
		ttl = 10
	}
	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open etcd session: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/nftauction/locks/"
	}
	e := &Etcd{
		client:  client,
		session: session,
		prefix:  prefix,
		logger:  logger,
		local:   NewKeyedMutex(),
	}
	e.acquire = e.lockSession
	return e, nil
}

func (e *Etcd) Lock(ctx context.Context, key string) (Unlock, error) {
	localUnlock, err := e.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	remoteUnlock, err := e.acquire(ctx, key)
	if err != nil {
		localUnlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			remoteUnlock()
			localUnlock()
		})
	}, nil
}

func (e *Etcd) lockSession(ctx context.Context, key string) (Unlock, error) {
	m := concurrency.NewMutex(e.session, e.prefix+key)
	if err := m.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Unlock(ctx); err != nil {
			// The lease expiry frees the key eventually.
			e.logger.Error("failed to release lock", "key", key, "error", err)
		}
	}, nil
}

// Close ends the session, releasing every lock it holds.
func (e *Etcd) Close() error {
	if err := e.session.Close(); err != nil {
		e.client.Close()
		return err
	}
	return e.client.Close()
}
