package docpool

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestApiGetDocuments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.Equal(t, "Bearer test-jwt", r.Header.Get("Authorization"))

		var request graphqlRequest
		assert.Equal(t, nil, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, true, strings.Contains(request.Query, "documents"))

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"documents": []map[string]any{
					{"_id": "doc-1", "title": "First", "content": `{"ops":[{"insert":"a\n"}]}`, "code": false},
					{"_id": "doc-2", "title": "Second", "content": "x = 1", "code": true},
				},
			},
		})
	}))
	defer server.Close()

	api := NewDocpoolApi(server.URL)
	api.SetByJwt("test-jwt")

	result, err := api.GetDocumentsSync()
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(result.Documents))
	assert.Equal(t, "doc-1", result.Documents[0].Id)
	assert.Equal(t, "Second", result.Documents[1].Title)
	assert.Equal(t, true, result.Documents[1].Code)
}

func TestApiGetDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request graphqlRequest
		assert.Equal(t, nil, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "doc-1", request.Variables["id"])

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"document": map[string]any{"_id": "doc-1", "title": "First"},
			},
		})
	}))
	defer server.Close()

	api := NewDocpoolApi(server.URL)

	result, err := api.GetDocumentSync("doc-1")
	assert.Equal(t, nil, err)
	assert.Equal(t, "doc-1", result.Document.Id)
}

func TestApiGraphqlErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// graphql errors arrive with http 200
		json.NewEncoder(w).Encode(map[string]any{
			"data": nil,
			"errors": []map[string]any{
				{"message": "not authorized"},
			},
		})
	}))
	defer server.Close()

	api := NewDocpoolApi(server.URL)

	_, err := api.GetDocumentsSync()
	assert.NotEqual(t, nil, err)
	assert.Equal(t, "not authorized", err.Error())
}

func TestApiCreateDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request graphqlRequest
		assert.Equal(t, nil, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "New Doc", request.Variables["title"])
		assert.Equal(t, false, request.Variables["code"])

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"createDocument": "doc-9"},
		})
	}))
	defer server.Close()

	api := NewDocpoolApi(server.URL)

	callback, channel := NewBlockingApiCallback[*CreateDocumentResult]()
	api.CreateDocument(&CreateDocumentArgs{Title: "New Doc"}, callback)
	result := <-channel
	assert.Equal(t, nil, result.Error)
	assert.Equal(t, "doc-9", result.Result.CreateDocument)
}

func TestApiUpdateDocumentValidation(t *testing.T) {
	// the server must never be reached for locally invalid input
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected request")
	}))
	defer server.Close()

	api := NewDocpoolApi(server.URL)

	callback, channel := NewBlockingApiCallback[*UpdateDocumentResult]()
	api.UpdateDocument(&UpdateDocumentArgs{
		Id:      "doc-1",
		Title:   "  ",
		Content: `{"ops":[{"insert":"a\n"}]}`,
	}, callback)
	result := <-channel
	assert.NotEqual(t, nil, result.Error)

	callback, channel = NewBlockingApiCallback[*UpdateDocumentResult]()
	api.UpdateDocument(&UpdateDocumentArgs{
		Id:      "doc-1",
		Title:   "T",
		Content: "",
	}, callback)
	result = <-channel
	assert.NotEqual(t, nil, result.Error)
}

func TestApiUpdateDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "/documents/update", r.URL.Path)

		var args UpdateDocumentArgs
		assert.Equal(t, nil, json.NewDecoder(r.Body).Decode(&args))
		assert.Equal(t, "doc-1", args.Id)

		json.NewEncoder(w).Encode(map[string]any{"updated": true})
	}))
	defer server.Close()

	api := NewDocpoolApi(server.URL)

	callback, channel := NewBlockingApiCallback[*UpdateDocumentResult]()
	api.UpdateDocument(&UpdateDocumentArgs{
		Id:      "doc-1",
		Title:   "T",
		Content: `{"ops":[{"insert":"a\n"}]}`,
	}, callback)
	result := <-channel
	assert.Equal(t, nil, result.Error)
	assert.Equal(t, true, result.Result.Updated)
}

func TestApiLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/login", r.URL.Path)

		var args LoginArgs
		assert.Equal(t, nil, json.NewDecoder(r.Body).Decode(&args))
		assert.Equal(t, "alice", args.Username)

		json.NewEncoder(w).Encode(map[string]any{"token": "a-jwt"})
	}))
	defer server.Close()

	api := NewDocpoolApi(server.URL)

	result, err := api.LoginSync(&LoginArgs{Username: "alice", Password: "pw"})
	assert.Equal(t, nil, err)
	assert.Equal(t, "a-jwt", result.Token)
}

func TestApiLoginError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer server.Close()

	api := NewDocpoolApi(server.URL)

	_, err := api.LoginSync(&LoginArgs{Username: "alice", Password: "bad"})
	assert.NotEqual(t, nil, err)
	assert.Equal(t, "invalid credentials", err.Error())
}

func TestParseByJwtUnverified(t *testing.T) {
	// header {"alg":"HS256","typ":"JWT"} and
	// claims {"user_id":"u-1","username":"alice"}, signature ignored
	byJwtStr := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
		"eyJ1c2VyX2lkIjoidS0xIiwidXNlcm5hbWUiOiJhbGljZSJ9." +
		"c2ln"

	byJwt, err := ParseByJwtUnverified(byJwtStr)
	assert.Equal(t, nil, err)
	assert.Equal(t, "u-1", byJwt.UserId)
	assert.Equal(t, "alice", byJwt.Username)

	_, err = ParseByJwtUnverified("not a jwt")
	assert.NotEqual(t, nil, err)
}
