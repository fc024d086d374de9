package rollcall_test

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/rollcall/internal/attendance/app"
	"github.com/aussiebroadwan/rollcall/pkg/attendsdk"
	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
)

/*
 * Container setup and token helpers for the attendance server end-to-end
 * tests. The signing key is generated on the host and copied into the
 * container so tests can mint tokens the server accepts.
 */

const (
	testImageName  = "rollcall-test:latest"
	issuer         = "rollcall-e2e"
	keyInContainer = "/data/signing.pem"
)

// TestMain builds the Docker image once before all tests and removes it
// afterwards. Under -short the suite is skipped.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		fmt.Fprintln(os.Stdout, "skipping rollcall e2e tests in short mode")
		os.Exit(0)
	}

	fmt.Fprintf(os.Stdout, "Building rollcall Docker image...")
	if err := buildDockerImage(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build Docker image: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	exitCode := m.Run()

	fmt.Fprintf(os.Stdout, "Cleaning up rollcall Docker image...")
	cleanupDockerImage()
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

func buildDockerImage() error {
	cmd := exec.CommandContext(context.Background(), "docker", "build",
		"-t", testImageName,
		"-f", "../../../cmd/rollcalld/Dockerfile",
		"../../../")
	cmd.Stdout = os.Stdout
	return cmd.Run()
}

func cleanupDockerImage() {
	_ = exec.CommandContext(context.Background(), "docker", "rmi", "-f", testImageName).Run()
}

type deployment struct {
	baseURL string
	keyCfg  app.Config // host-side config sharing the container's key
}

// setupContainer starts the server with a fresh database and returns its
// base URL. The container is terminated when the test ends.
func setupContainer(t *testing.T, qrTTL time.Duration) deployment {
	t.Helper()
	ctx := context.Background()

	keyFile := filepath.Join(t.TempDir(), "signing.pem")
	_, _, err := cryptox.LoadOrCreateEd25519Key(keyFile)
	require.NoError(t, err)

	req := testcontainers.ContainerRequest{
		Image:        testImageName,
		ExposedPorts: []string{"8080/tcp"},
		Env: map[string]string{
			"ROLLCALL_ISSUER":           issuer,
			"ROLLCALL_SIGNING_KEY_FILE": keyInContainer,
			"ROLLCALL_QR_TTL":           qrTTL.String(),
			"ENV":                       "test",
			"LOG_LEVEL":                 "info",
			"LOG_FORMAT":                "json",
			// Tests fire many requests from one address.
			"RATELIMIT_MODERATE_REQUESTS": "1000",
			"RATELIMIT_MODERATE_BURST":    "1000",
			"RATELIMIT_CHECKIN_REQUESTS":  "1000",
			"RATELIMIT_CHECKIN_BURST":     "1000",
		},
		Files: []testcontainers.ContainerFile{{
			HostFilePath:      keyFile,
			ContainerFilePath: keyInContainer,
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForHTTP("/readyz").
			WithPort("8080/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)
	host, err := container.Host(ctx)
	require.NoError(t, err)

	return deployment{
		baseURL: fmt.Sprintf("http://%s:%s", host, mappedPort.Port()),
		keyCfg:  app.Config{Issuer: issuer, SigningKeyFile: keyFile, TokenTTL: time.Hour},
	}
}

func (d deployment) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := app.MintToken(d.keyCfg, subject, role, "", time.Now())
	require.NoError(t, err)
	return tok
}

func (d deployment) client(t *testing.T, subject, role string) *attendsdk.Client {
	t.Helper()
	return attendsdk.NewClient(d.baseURL, attendsdk.WithToken(attendsdk.StaticToken(d.token(t, subject, role))))
}
