package documents_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"docchat-backend/internal/bootstrap"
	"docchat-backend/internal/shared/config"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app, err := bootstrap.Build(config.Config{
		Port:              "0",
		CORSAllowOrigin:   []string{"http://localhost:5173"},
		LocalStoreDir:     t.TempDir(),
		Env:               "dev",
		ObjectStoreType:   "local",
		ConversationStore: "memory",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app.Router
}

func upload(t *testing.T, router http.Handler, guest, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Guest-Id", guest)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func do(router http.Handler, method, path, guest string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Guest-Id", guest)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

type documentBody struct {
	DocumentID string `json:"documentId"`
	FileName   string `json:"fileName"`
	Status     string `json:"status"`
	SizeBytes  int64  `json:"sizeBytes"`
}

func TestDocumentsUploadListGet(t *testing.T) {
	router := newRouter(t)

	resp := upload(t, router, "g1", "hello.txt", []byte("hello world"))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var created documentBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.DocumentID)
	require.Equal(t, "hello.txt", created.FileName)
	require.Equal(t, "received", created.Status)
	require.EqualValues(t, 11, created.SizeBytes)

	list := do(router, http.MethodGet, "/api/v1/documents", "g1")
	require.Equal(t, http.StatusOK, list.Code)
	var listed struct {
		Documents []documentBody `json:"documents"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&listed))
	require.Len(t, listed.Documents, 1)
	require.Equal(t, created.DocumentID, listed.Documents[0].DocumentID)

	get := do(router, http.MethodGet, "/api/v1/documents/"+created.DocumentID, "g1")
	require.Equal(t, http.StatusOK, get.Code)
}

func TestDocumentsHiddenFromOtherTenants(t *testing.T) {
	router := newRouter(t)

	resp := upload(t, router, "owner", "notes.md", []byte("# notes"))
	require.Equal(t, http.StatusCreated, resp.Code)
	var created documentBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	require.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/documents/"+created.DocumentID, "intruder").Code)
	require.Equal(t, http.StatusNotFound, do(router, http.MethodDelete, "/api/v1/documents/"+created.DocumentID, "intruder").Code)

	list := do(router, http.MethodGet, "/api/v1/documents", "intruder")
	require.Equal(t, http.StatusOK, list.Code)
	require.JSONEq(t, `{"documents":[],"limit":20,"offset":0}`, list.Body.String())
}

func TestDocumentsRejectsUnsupportedType(t *testing.T) {
	router := newRouter(t)

	resp := upload(t, router, "g1", "payload.exe", []byte("MZ"))
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "validation_error", body.Error.Code)
}

func TestDocumentsDeleteReleasesUsage(t *testing.T) {
	router := newRouter(t)

	resp := upload(t, router, "g1", "a.txt", []byte("abc"))
	require.Equal(t, http.StatusCreated, resp.Code)
	var created documentBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	del := do(router, http.MethodDelete, "/api/v1/documents/"+created.DocumentID, "g1")
	require.Equal(t, http.StatusOK, del.Code)
	require.JSONEq(t, `{"documentId":"`+created.DocumentID+`","deleted":true,"pending":false}`, del.Body.String())

	require.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/documents/"+created.DocumentID, "g1").Code)

	usage := do(router, http.MethodGet, "/api/v1/usage", "g1")
	require.Equal(t, http.StatusOK, usage.Code)
	var u struct {
		Documents struct {
			Used int64 `json:"used"`
		} `json:"documents"`
	}
	require.NoError(t, json.NewDecoder(usage.Body).Decode(&u))
	require.Zero(t, u.Documents.Used)
}
