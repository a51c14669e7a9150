package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/herald/pkg/agent"
	"github.com/entrhq/herald/pkg/automation/driver"
)

type fakeWorkflow struct {
	result    agent.Result
	content   *agent.Content
	createErr error
	postErr   error
	items     []driver.Mention
	searchErr error
}

func (f *fakeWorkflow) Run(ctx context.Context) agent.Result { return f.result }

func (f *fakeWorkflow) CreateContent(ctx context.Context, topic string, withImage bool) (*agent.Content, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.content, nil
}

func (f *fakeWorkflow) PostContent(ctx context.Context, content *agent.Content) error {
	return f.postErr
}

func (f *fakeWorkflow) Search(ctx context.Context, query string, limit int) ([]driver.Mention, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.items, nil
}

func testServer(w *fakeWorkflow) *httptest.Server {
	srv := New(w, nil, slog.New(slog.DiscardHandler))
	return httptest.NewServer(srv.Router())
}

func TestHealthz(t *testing.T) {
	ts := testServer(&fakeWorkflow{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunSuccess(t *testing.T) {
	ts := testServer(&fakeWorkflow{result: agent.Result{Mentions: 3, Responses: 2}})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/agent/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body runResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 3, body.Mentions)
	assert.Equal(t, 2, body.Responses)
	assert.False(t, body.Failed)
}

func TestRunFailureMapsToBadGateway(t *testing.T) {
	ts := testServer(&fakeWorkflow{result: agent.Result{Failed: true, Errors: []string{"login: timeout"}}})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/agent/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestContentHappyPath(t *testing.T) {
	ts := testServer(&fakeWorkflow{content: &agent.Content{DraftID: 5, Text: "a post", Topic: "golang"}})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/content", "application/json",
		strings.NewReader(`{"topic":"golang","with_image":false}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body contentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(5), body.DraftID)
	assert.Equal(t, "a post", body.Text)
}

func TestContentRequiresTopic(t *testing.T) {
	ts := testServer(&fakeWorkflow{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/content", "application/json", strings.NewReader(`{"topic":"  "}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestContentPostFailure(t *testing.T) {
	ts := testServer(&fakeWorkflow{
		content: &agent.Content{DraftID: 5},
		postErr: errors.New("rate limited"),
	})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/content", "application/json", strings.NewReader(`{"topic":"golang"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSearch(t *testing.T) {
	ts := testServer(&fakeWorkflow{items: []driver.Mention{
		{ID: "1", AuthorUsername: "alice", Text: "hi", URL: "https://x.com/alice/status/1"},
	}})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/search?q=golang&limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Query string       `json:"query"`
		Items []searchItem `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "golang", body.Query)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "alice", body.Items[0].Author)
}

func TestSearchRequiresQuery(t *testing.T) {
	ts := testServer(&fakeWorkflow{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/search")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
