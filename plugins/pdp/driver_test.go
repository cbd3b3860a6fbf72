package pdp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr/testr"

	. "github.com/onsi/gomega"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	"github.com/nnoe/node-agent/plugins/pdp"
)

func TestCheck_AllowAndDeny(t *testing.T) {
	g := NewWithT(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Principal, Resource, Action string }
		g.Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())

		decision := "deny"
		if req.Principal == "alice" {
			decision = "allow"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"decision": decision})
	}))
	defer srv.Close()

	c := pdp.New(v1alpha1.PDPServiceConfig{Endpoint: srv.URL, TimeoutMS: 2000}, testr.New(t))

	d, err := c.Check(context.Background(), "alice", "zone:example.com", "read")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(d).To(Equal(pdp.Allow))

	d, err = c.Check(context.Background(), "mallory", "zone:example.com", "write")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(d).To(Equal(pdp.Deny))
}

func TestCheck_TransportErrorOnBadEndpoint(t *testing.T) {
	g := NewWithT(t)

	c := pdp.New(v1alpha1.PDPServiceConfig{Endpoint: "http://127.0.0.1:0", TimeoutMS: 100}, testr.New(t))

	d, err := c.Check(context.Background(), "alice", "zone:example.com", "read")
	g.Expect(err).To(HaveOccurred())
	g.Expect(d).To(Equal(pdp.Transport))
}
