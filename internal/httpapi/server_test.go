package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr/testr"
	. "github.com/onsi/gomega"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	"github.com/nnoe/node-agent/internal/httpapi"
	"github.com/nnoe/node-agent/internal/metrics"
	"github.com/nnoe/node-agent/internal/plugin"
)

type stubPlugin struct {
	name    string
	healthy bool
}

func (p *stubPlugin) Name() string                                 { return p.name }
func (p *stubPlugin) Init(context.Context) error                   { return nil }
func (p *stubPlugin) OnChange(context.Context, plugin.Change) error { return nil }
func (p *stubPlugin) Reload(context.Context) error                 { return nil }
func (p *stubPlugin) Health(context.Context) bool                  { return p.healthy }
func (p *stubPlugin) Shutdown(context.Context) error                { return nil }

func TestHealthz_AlwaysOK(t *testing.T) {
	g := NewWithT(t)

	registry := plugin.NewRegistry()
	s := httpapi.New(v1alpha1.HTTPConfig{Enabled: true, Address: "127.0.0.1:0"}, metrics.New(), registry, testr.New(t))

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	g.Expect(w.Code).To(Equal(http.StatusOK))
}

func TestReadyz_ReportsUnhealthyPlugin(t *testing.T) {
	g := NewWithT(t)

	registry := plugin.NewRegistry()
	registry.Register(&stubPlugin{name: "dns", healthy: true})
	registry.Register(&stubPlugin{name: "dhcp", healthy: false})
	s := httpapi.New(v1alpha1.HTTPConfig{Enabled: true, Address: "127.0.0.1:0"}, metrics.New(), registry, testr.New(t))

	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	g.Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
	g.Expect(w.Body.String()).To(ContainSubstring("dhcp"))
}

func TestReadyz_AllHealthy(t *testing.T) {
	g := NewWithT(t)

	registry := plugin.NewRegistry()
	registry.Register(&stubPlugin{name: "dns", healthy: true})
	s := httpapi.New(v1alpha1.HTTPConfig{Enabled: true, Address: "127.0.0.1:0"}, metrics.New(), registry, testr.New(t))

	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	g.Expect(w.Code).To(Equal(http.StatusOK))
}

func TestMetricsJSON_ServesSnapshot(t *testing.T) {
	g := NewWithT(t)

	m := metrics.New()
	m.ConfigUpdatesTotal.Inc()
	s := httpapi.New(v1alpha1.HTTPConfig{Enabled: true, Address: "127.0.0.1:0"}, m, plugin.NewRegistry(), testr.New(t))

	r := httptest.NewRequest(http.MethodGet, "/metrics.json", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	g.Expect(w.Code).To(Equal(http.StatusOK))
	g.Expect(w.Body.String()).To(ContainSubstring(`"config_updates_total":1`))
}
