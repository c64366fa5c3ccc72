package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newPistonTestServer(t *testing.T, handler http.HandlerFunc) *PistonClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewPistonClient(PistonConfig{BaseURL: server.URL + "/", Logger: zerolog.Nop()})
	require.NoError(t, err)
	return client
}

func TestPistonClientSendsRequestAndParsesRun(t *testing.T) {
	var received pistonRequest
	client := newPistonTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"language":"python","version":"3.10.0","run":{"stdout":"42\n","stderr":"","code":0,"signal":null,"wall_time":12}}`))
	})

	result, err := client.Execute(context.Background(), Request{
		Language:       "python",
		SourceCode:     "print(42)",
		Stdin:          "in",
		CompileTimeout: 15 * time.Second,
		RunTimeout:     10 * time.Second,
	})
	require.NoError(t, err)

	require.Equal(t, "python", received.Language)
	require.Equal(t, "*", received.Version)
	require.Equal(t, "print(42)", received.Files[0].Content)
	require.Equal(t, "in", received.Stdin)
	require.Equal(t, int64(10000), received.RunTimeout)
	require.Equal(t, int64(15000), received.CompileTimeout)

	require.Equal(t, "42\n", result.Stdout)
	require.Equal(t, 0, result.ExitCode)
	require.Equal(t, 12*time.Millisecond, result.ExecutionTime)
	require.False(t, result.CompileFailed)
}

func TestPistonClientReportsCompileFailure(t *testing.T) {
	client := newPistonTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"run":{"stdout":"","stderr":"","code":null},"compile":{"stderr":"syntax error","code":1}}`))
	})

	result, err := client.Execute(context.Background(), Request{Language: "java", SourceCode: "class"})
	require.NoError(t, err)
	require.True(t, result.CompileFailed)
	require.Equal(t, "syntax error", result.CompileOutput)
}

func TestPistonClientDetectsKilledRun(t *testing.T) {
	client := newPistonTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"run":{"stdout":"","stderr":"","code":null,"signal":"SIGKILL"}}`))
	})

	result, err := client.Execute(context.Background(), Request{Language: "javascript", SourceCode: "for(;;){}"})
	require.NoError(t, err)
	require.True(t, result.TimedOut)
}

func TestPistonClientTreatsKilledCompilerAsTimeout(t *testing.T) {
	client := newPistonTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"run":{"stdout":"","stderr":"","code":null},"compile":{"stderr":"","code":137,"signal":"SIGKILL"}}`))
	})

	result, err := client.Execute(context.Background(), Request{Language: "java", SourceCode: "class Main {}"})
	require.NoError(t, err)
	require.True(t, result.TimedOut)
	require.True(t, result.CompileTimedOut)
	require.False(t, result.CompileFailed)
}

func TestPistonClientMapsServerErrorsToUnavailable(t *testing.T) {
	client := newPistonTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Execute(context.Background(), Request{Language: "python", SourceCode: "print(1)"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPistonClientMapsConnectionFailureToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewPistonClient(PistonConfig{BaseURL: url, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = client.Execute(context.Background(), Request{Language: "python", SourceCode: "print(1)"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPistonClientRejectedRequest(t *testing.T) {
	client := newPistonTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"runtime is unknown"}`))
	})

	_, err := client.Execute(context.Background(), Request{Language: "go", SourceCode: "package main"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "runtime is unknown")
}
