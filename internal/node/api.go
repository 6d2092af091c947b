package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ringkv/internal/model"
	"ringkv/internal/quorum"
	"ringkv/internal/replication"
	"ringkv/internal/wire"
)

const (
	maxBodyBytes = 64 << 20
	contentType  = "application/octet-stream"

	// statusClientClosedRequest is the nginx convention for a client that went away.
	statusClientClosedRequest = 499
)

// api is the public HTTP surface of a node. Keys on the URL are hex encoded,
// bodies carry the binary object envelope.
type api struct {
	node   *Node
	logger *zap.Logger
}

func newAPI(n *Node) *api {
	return &api{node: n, logger: n.logger.Named("http")}
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/health", a.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.node.registry, promhttp.HandlerOpts{}))
	r.Get("/ring/{key}", a.preferredHosts)

	r.Route("/kv", func(r chi.Router) {
		r.Post("/", a.put)
		r.Get("/{key}", a.get)
		r.Delete("/{key}", a.delete)
	})
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"host":       a.node.self.String(),
		"ring_hosts": a.node.ring.Len(),
	})
}

func (a *api) get(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}

	obj, err := a.node.coordinator.Get(r.Context(), key)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if obj.IsStub() {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wire.Marshal(obj))
}

func (a *api) put(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "cannot read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	obj, err := wire.Unmarshal(a.node.factory, body)
	if err != nil {
		http.Error(w, "bad envelope: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.node.coordinator.Put(r.Context(), obj); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// delete writes a tombstone. The version is the hex encoded version bytes.
func (a *api) delete(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	raw, err := hex.DecodeString(r.URL.Query().Get("version"))
	if err != nil || len(raw) == 0 {
		http.Error(w, "version parameter must be a hexadecimal string", http.StatusBadRequest)
		return
	}
	version, err := a.node.factory.DecodeVersion(raw)
	if err != nil {
		http.Error(w, "bad version: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.node.coordinator.Delete(r.Context(), key, version); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) preferredHosts(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	hosts := replication.ReplicasForKey(a.node.ring, key)
	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		names = append(names, h.String())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key.String(),
		"hash":  hex.EncodeToString(key.Hash()),
		"hosts": names,
	})
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, model.ErrStaleVersion):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, quorum.ErrQuorumTimeout), errors.Is(err, quorum.ErrNoReplicas):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled):
		a.logger.Debug("client went away", zap.Error(err))
		w.WriteHeader(statusClientClosedRequest)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		a.logger.Error("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func keyParam(w http.ResponseWriter, r *http.Request) (model.Key, bool) {
	raw, err := hex.DecodeString(chi.URLParam(r, "key"))
	if err != nil || len(raw) == 0 {
		http.Error(w, "key parameter must be a hexadecimal string", http.StatusBadRequest)
		return model.Key{}, false
	}
	return model.NewKey(raw), true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
