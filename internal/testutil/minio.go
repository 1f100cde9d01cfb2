package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cory-johannsen/duel/internal/config"
)

// NewMinioContainer starts a MinIO test container and returns an object store
// config pointing at it.
//
// Precondition: Docker must be available.
// Postcondition: Returns the config of a running container, or fails the test.
// The container is terminated when the test ends.
func NewMinioContainer(t *testing.T) config.ObjectStoreConfig {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	const user, password = "duel", "duel-secret"
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     user,
				"MINIO_ROOT_PASSWORD": password,
			},
			Cmd: []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").
				WithPort("9000/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting minio container: %v [%s]", err, time.Since(start))
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	t.Logf("minio container started [%s]", time.Since(start))
	return config.ObjectStoreConfig{
		Enabled:   true,
		Endpoint:  fmt.Sprintf("%s:%d", host, port.Int()),
		AccessKey: user,
		SecretKey: password,
		Bucket:    "duel-test",
	}
}
