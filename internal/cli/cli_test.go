package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubServer returns an httptest server and points the CLI at it for the
// duration of the test.
func stubServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	prev := serverAddr
	serverAddr = strings.TrimPrefix(srv.URL, "http://")
	t.Cleanup(func() { serverAddr = prev })
	return srv
}

func TestRootCommandTree(t *testing.T) {
	want := []string{"serve", "ticket", "task", "agent", "guardian", "phase", "events", "version"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, have[name], "missing subcommand %q", name)
	}
}

func TestTicketCreatePostsRequest(t *testing.T) {
	var got map[string]any
	stubServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/tickets", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ticket-1"}`))
	}))

	cmd := newTicketCmd()
	cmd.SetArgs([]string{"create", "Add search", "--priority", "high"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "Add search", got["title"])
	assert.Equal(t, "high", got["priority"])
}

func TestGuardianFlagsRequired(t *testing.T) {
	cmd := newGuardianCmd()
	cmd.SetArgs([]string{"cancel-task", "task-1"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	stubServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"ticket ticket-x not found","code":"NOT_FOUND"}`))
	}))

	var out map[string]any
	err := newClient().get("/v1/tickets/ticket-x", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticket ticket-x not found")
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestJSONRawQuotesPlainStrings(t *testing.T) {
	assert.Equal(t, `{"kind":"design_doc"}`, string(jsonRaw(`{"kind":"design_doc"}`)))
	assert.Equal(t, `"plain text"`, string(jsonRaw("plain text")))
}

func TestWSURL(t *testing.T) {
	c := &client{base: "http://localhost:7070"}
	assert.Equal(t, "ws://localhost:7070/v1/events", c.wsURL("/v1/events"))
}
