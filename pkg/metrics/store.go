package metrics

import (
	"context"
	"time"

	"github.com/policystore/policystore/pkg/auth"
	"github.com/policystore/policystore/pkg/policy"
)

// InstrumentConnector wraps a connector so every operation performed
// over its connections is recorded as a store operation.
func InstrumentConnector[C any](inner policy.Connector[C], m *Metrics) policy.Connector[C] {
	return &instrumentedConnector[C]{inner: inner, metrics: m}
}

type instrumentedConnector[C any] struct {
	inner   policy.Connector[C]
	metrics *Metrics
}

func (c *instrumentedConnector[C]) Connect(ctx context.Context, identity auth.Identity) (policy.Connection[C], error) {
	start := time.Now()
	conn, err := c.inner.Connect(ctx, identity)
	c.metrics.RecordStoreOperation("connect", statusOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return &instrumentedConnection[C]{inner: conn, metrics: c.metrics}, nil
}

type instrumentedConnection[C any] struct {
	inner   policy.Connection[C]
	metrics *Metrics
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *instrumentedConnection[C]) AddVersion(ctx context.Context, metadata policy.AttachedMetadata, content C) (version uint64, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordStoreOperation("add_version", statusOf(err), time.Since(start)) }()
	return c.inner.AddVersion(ctx, metadata, content)
}

func (c *instrumentedConnection[C]) Activate(ctx context.Context, version uint64) (err error) {
	start := time.Now()
	defer func() { c.metrics.RecordStoreOperation("activate", statusOf(err), time.Since(start)) }()
	return c.inner.Activate(ctx, version)
}

func (c *instrumentedConnection[C]) Deactivate(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.metrics.RecordStoreOperation("deactivate", statusOf(err), time.Since(start)) }()
	return c.inner.Deactivate(ctx)
}

func (c *instrumentedConnection[C]) GetVersions(ctx context.Context) (versions map[uint64]policy.Metadata, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordStoreOperation("get_versions", statusOf(err), time.Since(start)) }()
	return c.inner.GetVersions(ctx)
}

func (c *instrumentedConnection[C]) GetActiveVersion(ctx context.Context) (version *uint64, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordStoreOperation("get_active_version", statusOf(err), time.Since(start)) }()
	return c.inner.GetActiveVersion(ctx)
}

func (c *instrumentedConnection[C]) GetActivator(ctx context.Context) (activator *auth.Identity, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordStoreOperation("get_activator", statusOf(err), time.Since(start)) }()
	return c.inner.GetActivator(ctx)
}

func (c *instrumentedConnection[C]) GetVersionMetadata(ctx context.Context, version uint64) (metadata *policy.Metadata, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordStoreOperation("get_version_metadata", statusOf(err), time.Since(start)) }()
	return c.inner.GetVersionMetadata(ctx, version)
}

func (c *instrumentedConnection[C]) GetVersionContent(ctx context.Context, version uint64) (content *C, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordStoreOperation("get_version_content", statusOf(err), time.Since(start)) }()
	return c.inner.GetVersionContent(ctx, version)
}
