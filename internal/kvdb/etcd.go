package kvdb

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	clientv3 "go.etcd.io/etcd/client/v3"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	nnerrors "github.com/nnoe/node-agent/internal/errors"
)

// kvdbRetries bounds transient-transport retries (dropped connection,
// leader election in flight) per request; it does not cover Watch, which
// the orchestrator already treats as a long-lived stream to re-establish.
const kvdbRetries = 3

func retryOpts() []backoff.RetryOption {
	return []backoff.RetryOption{backoff.WithMaxTries(kvdbRetries)}
}

// etcdClient implements Client against an etcd cluster, the concrete
// KVDB that spec §4.1's Get/Put/Delete/PrefixScan/Watch surface targets.
type etcdClient struct {
	cli            *clientv3.Client
	requestTimeout time.Duration
	log            logr.Logger
}

// New dials the endpoints in cfg and returns a Client. Connection errors
// surface as a Transport-class error; cfg validity (e.g. TLS file paths)
// is a Config-class error since it is checked once at startup.
func New(cfg v1alpha1.KVDBConfig, log logr.Logger) (Client, error) {
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, nnerrors.New(nnerrors.Config, "kvdb", err)
	}

	dialTimeout := time.Duration(cfg.DialTimeoutSecs) * time.Second
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		TLS:         tlsConfig,
	})
	if err != nil {
		return nil, nnerrors.New(nnerrors.Transport, "kvdb", fmt.Errorf("dialing etcd: %w", err))
	}

	return &etcdClient{
		cli:            cli,
		requestTimeout: time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		log:            log.WithName("kvdb"),
	}, nil
}

// buildTLSConfig loads the CA/cert/key from the configured filesystem
// paths. Without a TLS section, plaintext transport is used; peer
// verification defaults on and can only be disabled for test endpoints
// via tls.verify: false.
func buildTLSConfig(cfg *v1alpha1.TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("loading client keypair: %w", err)
	}

	pool := x509.NewCertPool()
	if cfg.CA != "" {
		caBytes, err := os.ReadFile(cfg.CA)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CA)
		}
	}

	verify := cfg.Verify == nil || *cfg.Verify
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		RootCAs:            pool,
		InsecureSkipVerify: !verify,
		MinVersion:         tls.VersionTLS12,
	}, nil
}

func (c *etcdClient) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// getResult carries Get's two-value success shape through backoff.Retry's
// single-value generic signature.
type getResult struct {
	value []byte
	found bool
}

func (c *etcdClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := backoff.Retry(ctx, func() (getResult, error) {
		rctx, cancel := c.ctx(ctx)
		defer cancel()

		resp, err := c.cli.Get(rctx, key)
		if err != nil {
			return getResult{}, nnerrors.New(nnerrors.Transport, "kvdb", fmt.Errorf("get %s: %w", key, err))
		}
		if len(resp.Kvs) == 0 {
			return getResult{}, nil
		}
		return getResult{value: resp.Kvs[0].Value, found: true}, nil
	}, retryOpts()...)
	if err != nil {
		return nil, false, err
	}
	return res.value, res.found, nil
}

func (c *etcdClient) Put(ctx context.Context, key string, value []byte) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		rctx, cancel := c.ctx(ctx)
		defer cancel()

		if _, err := c.cli.Put(rctx, key, string(value)); err != nil {
			return struct{}{}, nnerrors.New(nnerrors.Transport, "kvdb", fmt.Errorf("put %s: %w", key, err))
		}
		return struct{}{}, nil
	}, retryOpts()...)
	return err
}

func (c *etcdClient) Delete(ctx context.Context, key string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		rctx, cancel := c.ctx(ctx)
		defer cancel()

		if _, err := c.cli.Delete(rctx, key); err != nil {
			return struct{}{}, nnerrors.New(nnerrors.Transport, "kvdb", fmt.Errorf("delete %s: %w", key, err))
		}
		return struct{}{}, nil
	}, retryOpts()...)
	return err
}

func (c *etcdClient) PrefixScan(ctx context.Context, prefix string) ([]KV, error) {
	return backoff.Retry(ctx, func() ([]KV, error) {
		rctx, cancel := c.ctx(ctx)
		defer cancel()

		resp, err := c.cli.Get(rctx, prefix, clientv3.WithPrefix())
		if err != nil {
			return nil, nnerrors.New(nnerrors.Transport, "kvdb", fmt.Errorf("prefix scan %s: %w", prefix, err))
		}

		out := make([]KV, 0, len(resp.Kvs))
		for _, kv := range resp.Kvs {
			out = append(out, KV{Key: string(kv.Key), Value: kv.Value})
		}
		return out, nil
	}, retryOpts()...)
}

func (c *etcdClient) Watch(ctx context.Context, prefix string) <-chan Event {
	out := make(chan Event)
	wch := c.cli.Watch(ctx, prefix, clientv3.WithPrefix())

	go func() {
		defer close(out)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				c.log.Error(err, "watch stream error, closing", "prefix", prefix)
				return
			}
			for _, ev := range resp.Events {
				e := Event{Key: string(ev.Kv.Key)}
				if ev.Type == clientv3.EventTypeDelete {
					e.Kind = Delete
				} else {
					e.Kind = Put
					e.Value = ev.Kv.Value
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (c *etcdClient) Close() error {
	return c.cli.Close()
}
