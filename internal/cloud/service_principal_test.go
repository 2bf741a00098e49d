package cloud

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/microsoft/kiota-abstractions-go/authentication"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdaf-automation/sdaf-wizard/internal/config"
	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
)

type graphPassword struct {
	KeyID       string `json:"keyId"`
	DisplayName string `json:"displayName"`
	SecretText  string `json:"secretText,omitempty"`
}

type graphApp struct {
	ID          string          `json:"id"`
	AppID       string          `json:"appId"`
	DisplayName string          `json:"displayName"`
	UniqueName  string          `json:"uniqueName,omitempty"`
	Passwords   []graphPassword `json:"passwordCredentials"`

	// hiddenReads is the number of reads that still miss the application.
	hiddenReads int
}

// fakeGraph serves the part of Microsoft Graph the service principal code
// uses. Created applications stay invisible to reads for a while and service
// principal creation can be made to fail as if the application had not
// replicated yet.
type fakeGraph struct {
	mu         sync.Mutex
	apps       []*graphApp
	principals map[string]string

	hideCreated      int
	principalFailure int

	created int
	patches int
	removed []string
}

func newFakeGraph(apps ...*graphApp) *fakeGraph {
	return &fakeGraph{apps: apps, principals: map[string]string{}}
}

var uniqueNamePath = regexp.MustCompile(`^/applications\(uniqueName='([^']+)'\)$`)

func (g *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	path := r.URL.Path
	switch {
	case uniqueNamePath.MatchString(path):
		name := uniqueNamePath.FindStringSubmatch(path)[1]
		app := g.byUniqueName(name)
		switch r.Method {
		case http.MethodGet:
			if app == nil || !g.visible(app) {
				graphError(w, http.StatusNotFound, "Request_ResourceNotFound", "Resource '"+name+"' does not exist")
				return
			}
			writeJSON(w, http.StatusOK, app)
		case http.MethodPatch:
			g.patches++
			if r.Header.Get("Prefer") != "create-if-missing" {
				graphError(w, http.StatusBadRequest, "Request_BadRequest", "missing Prefer header")
				return
			}
			if app != nil {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			var body graphApp
			decodeBody(r, &body)
			g.created++
			app = &graphApp{
				ID:          uuid.NewString(),
				AppID:       uuid.NewString(),
				DisplayName: body.DisplayName,
				UniqueName:  name,
				hiddenReads: g.hideCreated,
			}
			g.apps = append(g.apps, app)
			writeJSON(w, http.StatusCreated, app)
		}
	case path == "/applications" && r.Method == http.MethodGet:
		filter := r.URL.Query().Get("$filter")
		var matches []*graphApp
		for _, app := range g.apps {
			if filter == "displayName eq '"+app.DisplayName+"'" && g.visible(app) {
				matches = append(matches, app)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": matches})
	case strings.HasSuffix(path, "/addPassword"):
		app := g.byID(strings.Split(path, "/")[2])
		var body struct {
			PasswordCredential graphPassword `json:"passwordCredential"`
		}
		decodeBody(r, &body)
		password := graphPassword{KeyID: uuid.NewString(), DisplayName: body.PasswordCredential.DisplayName, SecretText: fmt.Sprintf("secret-%d", len(app.Passwords)+1)}
		app.Passwords = append(app.Passwords, graphPassword{KeyID: password.KeyID, DisplayName: password.DisplayName})
		writeJSON(w, http.StatusOK, password)
	case strings.HasSuffix(path, "/removePassword"):
		app := g.byID(strings.Split(path, "/")[2])
		var body struct {
			KeyID string `json:"keyId"`
		}
		decodeBody(r, &body)
		kept := app.Passwords[:0]
		for _, p := range app.Passwords {
			if p.KeyID != body.KeyID {
				kept = append(kept, p)
			}
		}
		app.Passwords = kept
		g.removed = append(g.removed, body.KeyID)
		w.WriteHeader(http.StatusNoContent)
	case path == "/servicePrincipals" && r.Method == http.MethodGet:
		var value []map[string]string
		for appID, id := range g.principals {
			if r.URL.Query().Get("$filter") == "appId eq '"+appID+"'" {
				value = append(value, map[string]string{"id": id, "appId": appID})
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": value})
	case path == "/servicePrincipals" && r.Method == http.MethodPost:
		var body struct {
			AppID string `json:"appId"`
		}
		decodeBody(r, &body)
		if g.principalFailure > 0 {
			g.principalFailure--
			graphError(w, http.StatusBadRequest, "Request_BadRequest", "The appId '"+body.AppID+"' of the service principal does not reference a valid application object.")
			return
		}
		g.principals[body.AppID] = "principal-" + body.AppID
		writeJSON(w, http.StatusCreated, map[string]string{"id": g.principals[body.AppID], "appId": body.AppID})
	default:
		graphError(w, http.StatusNotImplemented, "NotImplemented", r.Method+" "+path)
	}
}

func (g *fakeGraph) visible(app *graphApp) bool {
	if app.hiddenReads > 0 {
		app.hiddenReads--
		return false
	}
	return true
}

func (g *fakeGraph) byUniqueName(name string) *graphApp {
	for _, app := range g.apps {
		if app.UniqueName == name {
			return app
		}
	}
	return nil
}

func (g *fakeGraph) byID(id string) *graphApp {
	for _, app := range g.apps {
		if app.ID == id {
			return app
		}
	}
	return nil
}

func decodeBody(r *http.Request, v any) {
	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return
		}
		defer zr.Close()
		body = zr
	}
	_ = json.NewDecoder(body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func graphError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"code": code, "message": msg}})
}

func newGraphTestCloud(t *testing.T, handler http.Handler, equivalence config.Equivalence) *AzureCloud {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	adapter, err := msgraphsdk.NewGraphRequestAdapter(&authentication.AnonymousAuthenticationProvider{})
	require.NoError(t, err)
	adapter.SetBaseUrl(srv.URL)

	return &AzureCloud{
		graph:          msgraphsdk.NewGraphServiceClient(adapter),
		subscriptionID: "sub-123",
		equivalence:    equivalence,
	}
}

func TestEnsureServicePrincipalCreatesApplication(t *testing.T) {
	graph := newFakeGraph()
	c := newGraphTestCloud(t, graph, config.Default().Equivalence)

	sp, err := c.EnsureServicePrincipal(context.Background(), "sdaf-prod", false)
	require.NoError(t, err)

	assert.True(t, sp.Created)
	assert.Equal(t, 1, graph.created)
	require.Len(t, graph.apps, 1)
	assert.Equal(t, "sdaf-wizard-sdaf-prod", graph.apps[0].UniqueName)
	assert.Equal(t, graph.apps[0].ID, sp.AppObjectID)
	assert.Equal(t, graph.apps[0].AppID, sp.ClientID)
	assert.Equal(t, "principal-"+sp.ClientID, sp.PrincipalID)
	assert.Empty(t, sp.ClientSecret)
}

func TestEnsureServicePrincipalRetriesDoNotDuplicateApplication(t *testing.T) {
	graph := newFakeGraph()
	graph.hideCreated = 2
	graph.principalFailure = 2
	c := newGraphTestCloud(t, graph, config.Default().Equivalence)

	for i := 0; i < 2; i++ {
		_, err := c.EnsureServicePrincipal(context.Background(), "sdaf-prod", false)
		require.Error(t, err)
		assert.True(t, failure.IsTransient(err), "attempt %d: %v", i+1, err)
		assert.True(t, failure.HasReason(err, failure.ReasonNotYetVisible))
	}

	sp, err := c.EnsureServicePrincipal(context.Background(), "sdaf-prod", false)
	require.NoError(t, err)

	assert.Equal(t, 1, graph.created)
	assert.Len(t, graph.apps, 1)
	assert.Equal(t, graph.apps[0].AppID, sp.ClientID)
	assert.Len(t, graph.principals, 1)
}

func TestEnsureServicePrincipalAdoptsApplication(t *testing.T) {
	existing := &graphApp{ID: "obj-1", AppID: "app-1", DisplayName: "sdaf-prod"}
	graph := newFakeGraph(existing)
	graph.principals["app-1"] = "principal-1"
	c := newGraphTestCloud(t, graph, config.Default().Equivalence)

	sp, err := c.EnsureServicePrincipal(context.Background(), "sdaf-prod", false)
	require.NoError(t, err)

	assert.False(t, sp.Created)
	assert.Equal(t, "obj-1", sp.AppObjectID)
	assert.Equal(t, "app-1", sp.ClientID)
	assert.Equal(t, "principal-1", sp.PrincipalID)
	assert.Zero(t, graph.patches)
}

func TestEnsureServicePrincipalRefusesToAdopt(t *testing.T) {
	graph := newFakeGraph(&graphApp{ID: "obj-1", AppID: "app-1", DisplayName: "sdaf-prod"})
	equivalence := config.Default().Equivalence
	equivalence.Application.AdoptExisting = false
	c := newGraphTestCloud(t, graph, equivalence)

	_, err := c.EnsureServicePrincipal(context.Background(), "sdaf-prod", false)
	assert.True(t, failure.IsConflict(err))
	assert.Zero(t, graph.patches)
}

func TestEnsureServicePrincipalOwnApplicationIsNotAdoption(t *testing.T) {
	// Registered by an earlier run but the unique name lookup lags.
	own := &graphApp{ID: "obj-1", AppID: "app-1", DisplayName: "sdaf-prod", UniqueName: "sdaf-wizard-sdaf-prod", hiddenReads: 1}
	graph := newFakeGraph(own)
	graph.principals["app-1"] = "principal-1"
	equivalence := config.Default().Equivalence
	equivalence.Application.AdoptExisting = false
	c := newGraphTestCloud(t, graph, equivalence)

	sp, err := c.EnsureServicePrincipal(context.Background(), "sdaf-prod", false)
	require.NoError(t, err)
	assert.Equal(t, "obj-1", sp.AppObjectID)
	assert.Zero(t, graph.patches)
}

func TestEnsureServicePrincipalDuplicateNames(t *testing.T) {
	graph := newFakeGraph(
		&graphApp{ID: "obj-1", AppID: "app-1", DisplayName: "sdaf-prod"},
		&graphApp{ID: "obj-2", AppID: "app-2", DisplayName: "sdaf-prod"},
	)
	c := newGraphTestCloud(t, graph, config.Default().Equivalence)

	_, err := c.EnsureServicePrincipal(context.Background(), "sdaf-prod", false)
	assert.True(t, failure.IsConflict(err))
	assert.Zero(t, graph.created)
}

func TestEnsureServicePrincipalRotatesClientSecret(t *testing.T) {
	stale1, stale2, manual := uuid.NewString(), uuid.NewString(), uuid.NewString()
	graph := newFakeGraph(&graphApp{
		ID:          "obj-1",
		AppID:       "app-1",
		DisplayName: "sdaf-prod",
		UniqueName:  "sdaf-wizard-sdaf-prod",
		Passwords: []graphPassword{
			{KeyID: stale1, DisplayName: clientSecretDisplayName},
			{KeyID: manual, DisplayName: "rotated by hand"},
			{KeyID: stale2, DisplayName: clientSecretDisplayName},
		},
	})
	graph.principals["app-1"] = "principal-1"
	c := newGraphTestCloud(t, graph, config.Default().Equivalence)

	sp, err := c.EnsureServicePrincipal(context.Background(), "sdaf-prod", true)
	require.NoError(t, err)

	assert.Equal(t, "secret-4", sp.ClientSecret)
	assert.ElementsMatch(t, []string{stale1, stale2}, graph.removed)
	require.Len(t, graph.apps[0].Passwords, 2)
	assert.Equal(t, manual, graph.apps[0].Passwords[0].KeyID)
	assert.Equal(t, clientSecretDisplayName, graph.apps[0].Passwords[1].DisplayName)
}
