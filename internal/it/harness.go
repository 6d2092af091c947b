package it

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"ringkv/internal/clock"
	"ringkv/internal/config"
	"ringkv/internal/model"
	"ringkv/internal/node"
	"ringkv/internal/wire"
)

// Cluster is a set of nodes running in the test process, all listening on
// loopback and knowing each other through static membership.
type Cluster struct {
	mu    sync.Mutex
	nodes []*Node
}

// Node is a single cluster member.
type Node struct {
	ID       string
	Host     model.Host
	HTTPAddr string

	node   *node.Node
	client *http.Client
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

// Options tune the started cluster.
type Options struct {
	Size            int
	ReadCount       int
	WriteCount      int
	ResponseTimeout time.Duration
	Logger          *zap.Logger
}

func (o *Options) defaults() {
	if o.Size <= 0 {
		o.Size = 3
	}
	if o.ReadCount <= 0 {
		o.ReadCount = 2
	}
	if o.WriteCount <= 0 {
		o.WriteCount = 2
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// StartCluster starts opts.Size nodes with replication factor opts.Size.
// Tokens are spread evenly so every node replicates every key.
func StartCluster(ctx context.Context, opts Options) (*Cluster, error) {
	opts.defaults()

	grpcLis := make([]net.Listener, 0, opts.Size)
	httpLis := make([]net.Listener, 0, opts.Size)
	closeAll := func() {
		for _, l := range grpcLis {
			_ = l.Close()
		}
		for _, l := range httpLis {
			_ = l.Close()
		}
	}

	hosts := make([]model.Host, 0, opts.Size)
	for i := 0; i < opts.Size; i++ {
		gl, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
		grpcLis = append(grpcLis, gl)
		hl, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
		httpLis = append(httpLis, hl)

		port := gl.Addr().(*net.TCPAddr).Port
		token := model.TokenFromBytes([]byte{byte((i + 1) * 256 / (opts.Size + 1))})
		hosts = append(hosts, model.NewHost("127.0.0.1", port, token))
	}

	peers := make([]string, 0, len(hosts))
	for _, h := range hosts {
		peers = append(peers, h.String())
	}

	c := &Cluster{}
	for i, h := range hosts {
		cfg := config.Default()
		cfg.Host = h.Address
		cfg.Port = h.Port
		cfg.Token = hex.EncodeToString(h.Token.Bytes())
		cfg.HTTPAddr = httpLis[i].Addr().String()
		cfg.Peers = peers
		cfg.ReplicationFactor = opts.Size
		cfg.ReadCount = opts.ReadCount
		cfg.WriteCount = opts.WriteCount
		cfg.ResponseTimeout = opts.ResponseTimeout
		cfg.TransportTimeout = 5 * time.Second
		if err := cfg.Validate(); err != nil {
			closeAll()
			return nil, err
		}

		id := "n" + strconv.Itoa(i+1)
		n, err := node.New(&cfg, opts.Logger.With(zap.String("node", id)))
		if err != nil {
			closeAll()
			c.Stop()
			return nil, fmt.Errorf("failed to create node %s: %w", id, err)
		}

		nodeCtx, cancel := context.WithCancel(ctx)
		member := &Node{
			ID:       id,
			Host:     h,
			HTTPAddr: cfg.HTTPAddr,
			node:     n,
			client:   &http.Client{Timeout: 10 * time.Second},
			cancel:   cancel,
			done:     make(chan error, 1),
		}
		go func(gl, hl net.Listener) {
			member.done <- n.Serve(nodeCtx, gl, hl)
		}(grpcLis[i], httpLis[i])
		c.nodes = append(c.nodes, member)
	}

	for _, n := range c.nodes {
		if err := n.waitForReady(ctx, 10*time.Second); err != nil {
			c.Stop()
			return nil, err
		}
	}
	return c, nil
}

// Nodes returns the cluster members in start order.
func (c *Cluster) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Node(nil), c.nodes...)
}

// GetNode returns a node by ID.
func (c *Cluster) GetNode(id string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Stop stops all nodes in the cluster.
func (c *Cluster) Stop() {
	c.mu.Lock()
	nodes := c.nodes
	c.nodes = nil
	c.mu.Unlock()

	for _, n := range nodes {
		n.Stop()
	}
}

// KillNode stops a node. Other members keep it on their rings.
func (c *Cluster) KillNode(id string) error {
	n := c.GetNode(id)
	if n == nil {
		return fmt.Errorf("node %s not found", id)
	}
	n.Stop()
	return nil
}

// Stop stops the node and waits until its servers are down.
func (n *Node) Stop() {
	n.once.Do(func() {
		n.cancel()
		select {
		case <-n.done:
		case <-time.After(15 * time.Second):
		}
		_ = n.node.Close()
	})
}

func (n *Node) waitForReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for node %s to be ready", n.ID)
			}
			resp, err := n.client.Get(n.url("/health"))
			if err != nil {
				continue
			}
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Local reads the object stored on this node only.
func (n *Node) Local(key string) (*model.DataObject, error) {
	return n.node.Store().Get(model.NewKey([]byte(key)))
}

// SeedLocal writes an object straight into this node's store.
func (n *Node) SeedLocal(key string, version int64, value string) error {
	f := n.node.Factory()
	return n.node.Store().Put(f.NewObject(model.NewKey([]byte(key)), clock.NewCounter(version), []byte(value)))
}

// Put writes through the public API and returns the HTTP status.
func (n *Node) Put(ctx context.Context, key string, version int64, value string) (int, error) {
	obj := n.node.Factory().NewObject(model.NewKey([]byte(key)), clock.NewCounter(version), []byte(value))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url("/kv"), bytes.NewReader(wire.Marshal(obj)))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return n.do(req, nil)
}

// Get reads through the public API. The object is nil unless the status is 200.
func (n *Node) Get(ctx context.Context, key string) (*model.DataObject, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.url("/kv/"+hex.EncodeToString([]byte(key))), nil)
	if err != nil {
		return nil, 0, err
	}
	var body []byte
	code, err := n.do(req, &body)
	if err != nil || code != http.StatusOK {
		return nil, code, err
	}
	obj, err := wire.Unmarshal(n.node.Factory(), body)
	return obj, code, err
}

// Delete writes a tombstone through the public API.
func (n *Node) Delete(ctx context.Context, key string, version int64) (int, error) {
	target := n.url("/kv/" + hex.EncodeToString([]byte(key)) + "?version=" + hex.EncodeToString(clock.NewCounter(version).Bytes()))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return 0, err
	}
	return n.do(req, nil)
}

// Wait blocks until background repairs started by this node are done.
func (n *Node) Wait() {
	n.node.Coordinator().Wait()
}

func (n *Node) do(req *http.Request, body *[]byte) (int, error) {
	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, err
	}
	if body != nil {
		*body = data
	}
	return resp.StatusCode, nil
}

func (n *Node) url(path string) string {
	return "http://" + n.HTTPAddr + path
}
