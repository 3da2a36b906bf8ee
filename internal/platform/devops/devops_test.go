package devops

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"changeweave/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workItemJSON(id int, typ, title, parent string) string {
	fields := fmt.Sprintf(`"System.WorkItemType":%q,"System.Title":%q,"System.State":"Closed"`, typ, title)
	if parent != "" {
		fields += `,"System.Parent":` + parent
	}
	return fmt.Sprintf(`{"id":%d,"url":"https://dev.azure.com/acme/_apis/wit/workItems/%d","fields":{%s}}`, id, id, fields)
}

func newFakeDevOps(t *testing.T) *httptest.Server {
	t.Helper()
	items := map[string]string{
		"30": workItemJSON(30, "Bug", "Crash on save", "20"),
		"20": workItemJSON(20, "Feature", "Saving", "10"),
		"10": workItemJSON(10, "Epic", "Editor", ""),
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Empty(t, user)
		assert.Equal(t, "pat", pass)
		assert.Equal(t, "7.1", r.URL.Query().Get("api-version"))

		switch {
		case r.URL.Path == "/acme/Shop/_apis/wit/wiql/q-1":
			fmt.Fprint(w, `{"workItems":[{"id":30}]}`)
		case r.URL.Path == "/acme/Shop/_apis/wit/wiql" && r.Method == http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), "SELECT [System.Id]")
			fmt.Fprint(w, `{"workItemRelations":[{"source":null,"target":{"id":10}},{"source":{"id":10},"target":{"id":20}}]}`)
		case r.URL.Path == "/acme/Shop/_apis/wit/workitems":
			assert.Contains(t, r.URL.Query().Get("fields"), "System.Parent")
			var values []string
			for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
				if v, ok := items[id]; ok {
					values = append(values, v)
				} else {
					values = append(values, "null")
				}
			}
			fmt.Fprintf(w, `{"count":%d,"value":[%s]}`, len(values), strings.Join(values, ","))
		case r.URL.Path == "/acme/Shop/_apis/wit/workitemtypes":
			fmt.Fprint(w, `{"value":[{"name":"Bug","icon":{"url":"https://icons/bug.svg"}},{"name":"Task","icon":{}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSource_FetchesMissingParents(t *testing.T) {
	srv := newFakeDevOps(t)
	defer srv.Close()

	src, err := NewSource(Config{OrgURL: srv.URL + "/acme", Project: "Shop", PAT: "pat"})
	require.NoError(t, err)

	raws, err := src.FetchRecords(context.Background(), "q-1")
	require.NoError(t, err)
	require.Len(t, raws, 3)

	adapter := NewAdapter(nil)
	var ids []string
	for _, raw := range raws {
		it, err := adapter.ToWorkItem(raw)
		require.NoError(t, err)
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"30", "20", "10"}, ids)
}

func TestSource_ParentDepthBound(t *testing.T) {
	srv := newFakeDevOps(t)
	defer srv.Close()

	src, err := NewSource(Config{OrgURL: srv.URL + "/acme", Project: "Shop", PAT: "pat", MaxParentDepth: 1})
	require.NoError(t, err)

	raws, err := src.FetchRecords(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Len(t, raws, 2)
}

func TestSource_InlineWIQL(t *testing.T) {
	srv := newFakeDevOps(t)
	defer srv.Close()

	src, err := NewSource(Config{OrgURL: srv.URL + "/acme", Project: "Shop", PAT: "pat", MaxParentDepth: 1})
	require.NoError(t, err)

	raws, err := src.FetchRecords(context.Background(), "SELECT [System.Id] FROM WorkItemLinks")
	require.NoError(t, err)
	assert.Len(t, raws, 2)
}

func TestSource_Errors(t *testing.T) {
	srv := newFakeDevOps(t)
	defer srv.Close()

	src, err := NewSource(Config{OrgURL: srv.URL + "/acme", Project: "Shop", PAT: "pat"})
	require.NoError(t, err)

	_, err = src.FetchRecords(context.Background(), "")
	assert.Error(t, err)

	_, err = src.FetchRecords(context.Background(), "missing")
	var httpErr *platform.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)

	_, err = NewSource(Config{Project: "Shop"})
	assert.Error(t, err)
}

func TestSource_TypeIcons(t *testing.T) {
	srv := newFakeDevOps(t)
	defer srv.Close()

	src, err := NewSource(Config{OrgURL: srv.URL + "/acme", Project: "Shop", PAT: "pat"})
	require.NoError(t, err)

	icons, err := src.TypeIcons(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Bug": "https://icons/bug.svg"}, icons)
}

func TestAdapter_ToWorkItem(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 812,
		"url": "https://dev.azure.com/acme/Shop/_apis/wit/workItems/812",
		"fields": {
			"System.WorkItemType": "Bug",
			"System.Title": "Login fails",
			"System.State": "Resolved",
			"System.Tags": "auth; web ;",
			"System.Description": "<div>short</div>",
			"Microsoft.VSTS.TCM.ReproSteps": "<ol><li>Open the login page</li><li>Submit valid credentials</li></ol>",
			"System.Parent": 700
		}
	}`)
	item, err := NewAdapter(map[string]string{"Bug": "https://icons/bug.svg"}).ToWorkItem(raw)
	require.NoError(t, err)

	assert.Equal(t, "812", item.ID)
	assert.Equal(t, "Bug", item.Type)
	assert.Equal(t, "700", item.ParentID)
	assert.Equal(t, "Resolved", item.State)
	assert.Equal(t, []string{"auth", "web"}, item.Tags)
	assert.Equal(t, "https://dev.azure.com/acme/Shop/_workitems/edit/812", item.URL)
	assert.Equal(t, "https://icons/bug.svg", item.Icon)
	assert.Equal(t, "Open the login page Submit valid credentials", item.Description)
}

func TestAdapter_RejectsMissingID(t *testing.T) {
	_, err := NewAdapter(nil).ToWorkItem(json.RawMessage(`{"fields":{}}`))
	assert.Error(t, err)
}
