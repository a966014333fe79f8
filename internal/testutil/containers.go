// Package testutil starts the containers used by integration tests
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	localStackImage = "localstack/localstack:3.8.1"
	redisImage      = "redis:7-alpine"
)

func init() {
	_ = os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
}

// SetupLocalStack starts a LocalStack container with the given services and returns its endpoint
func SetupLocalStack(t *testing.T, services string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := localstack.Run(ctx, localStackImage,
		testcontainers.WithEnv(map[string]string{
			"SERVICES": services,
			"DEBUG":    "0",
		}),
	)
	if err != nil {
		t.Fatalf("Failed to start LocalStack container: %v", err)
	}
	terminateOnCleanup(t, container)

	mappedPort, err := container.MappedPort(ctx, "4566/tcp")
	if err != nil {
		t.Fatalf("Failed to get LocalStack port: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get LocalStack host: %v", err)
	}
	return fmt.Sprintf("http://%s:%s", host, mappedPort.Port())
}

// SetupRedis starts a Redis container and returns its redis:// URL
func SetupRedis(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(20 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	terminateOnCleanup(t, container)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get Redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get Redis port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func terminateOnCleanup(t *testing.T, container testcontainers.Container) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})
}
