package testing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MongoDBContainer is a single-node replica set; ledger writes need
// multi-document transactions
type MongoDBContainer struct {
	Container *mongodb.MongoDBContainer
	URI       string
}

// NewMongoDBContainer creates a new MongoDB testcontainer
func NewMongoDBContainer(ctx context.Context) (*MongoDBContainer, error) {
	mongoContainer, err := mongodb.Run(ctx,
		"mongo:7",
		mongodb.WithReplicaSet("rs0"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start mongodb container: %w", err)
	}

	uri, err := mongoContainer.ConnectionString(ctx)
	if err != nil {
		_ = mongoContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	// the driver would otherwise try to reach the replica set by its
	// in-container hostname
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return &MongoDBContainer{
		Container: mongoContainer,
		URI:       uri + sep + "directConnection=true",
	}, nil
}

// Close terminates the MongoDB container
func (m *MongoDBContainer) Close(ctx context.Context) error {
	if m.Container != nil {
		return m.Container.Terminate(ctx)
	}
	return nil
}

// RedisContainer wraps a testcontainers Redis instance
type RedisContainer struct {
	Container testcontainers.Container
	Addr      string
}

// NewRedisContainer creates a new Redis testcontainer
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return &RedisContainer{
		Container: container,
		Addr:      fmt.Sprintf("%s:%s", host, port.Port()),
	}, nil
}

// Close terminates the Redis container
func (r *RedisContainer) Close(ctx context.Context) error {
	if r.Container != nil {
		return r.Container.Terminate(ctx)
	}
	return nil
}
