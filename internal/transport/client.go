package transport

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ClientManager manages gRPC connections to peer nodes.
type ClientManager struct {
	mu      sync.RWMutex
	conns   map[string]*grpc.ClientConn
	clients map[string]*ReplicaClient
	opts    []grpc.DialOption
}

// NewClientManager creates a new client manager. opts are appended to the
// default insecure transport credentials.
func NewClientManager(opts ...grpc.DialOption) *ClientManager {
	return &ClientManager{
		conns:   make(map[string]*grpc.ClientConn),
		clients: make(map[string]*ReplicaClient),
		opts:    append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...),
	}
}

// GetClient returns a replica client for the given address.
// Connections are created lazily and reused.
func (cm *ClientManager) GetClient(addr string) (*ReplicaClient, error) {
	cm.mu.RLock()
	client, exists := cm.clients[addr]
	cm.mu.RUnlock()

	if exists {
		return client, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if client, exists := cm.clients[addr]; exists {
		return client, nil
	}

	conn, err := grpc.NewClient(addr, cm.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}

	client = NewReplicaClient(conn)
	cm.conns[addr] = conn
	cm.clients[addr] = client
	return client, nil
}

// Forget closes the connection to addr, if any.
func (cm *ClientManager) Forget(addr string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn, ok := cm.conns[addr]; ok {
		_ = conn.Close()
		delete(cm.conns, addr)
		delete(cm.clients, addr)
	}
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var firstErr error
	for addr, conn := range cm.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", addr, err)
		}
	}
	cm.conns = make(map[string]*grpc.ClientConn)
	cm.clients = make(map[string]*ReplicaClient)
	return firstErr
}
