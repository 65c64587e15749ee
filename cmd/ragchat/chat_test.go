package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatStreamsAnswersUntilExit(t *testing.T) {
	var queries, users []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/generate-stream", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		queries = append(queries, body["query"])
		users = append(users, r.Header.Get("x-user-id"))
		_, _ = w.Write([]byte("Manila is\nthe capital"))
	}))
	defer srv.Close()

	c := &chat{url: srv.URL, user: "tester", styles: newStyles()}
	var out bytes.Buffer
	err := c.run(context.Background(), strings.NewReader("capital?\n\nquit\nnever sent\n"), &out)
	require.NoError(t, err)

	assert.Equal(t, []string{"capital?"}, queries)
	assert.Equal(t, []string{"tester"}, users)
	assert.Contains(t, out.String(), "Manila is")
	assert.Contains(t, out.String(), "the capital")
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestChatReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"No similar documents found.  Kindly refine your query."}`))
	}))
	defer srv.Close()

	c := &chat{url: srv.URL, user: "tester", styles: newStyles()}
	var out bytes.Buffer
	require.NoError(t, c.run(context.Background(), strings.NewReader("hello\n"), &out))
	assert.Contains(t, out.String(), "No similar documents found")
}
