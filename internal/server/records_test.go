package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/aihub/internal/store"
)

func TestPromptRoutes(t *testing.T) {
	up := newUpstream(t, chatStream())
	srv := newTestServer(t, up, newTestStore(t))

	w := do(srv, http.MethodPost, "/api/prompts/concise", `{"content":"Be brief.","description":"short answers"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created store.Prompt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "concise", created.Key)
	assert.Equal(t, "Be brief.", created.Content)
	assert.Equal(t, "short answers", created.Description)

	w = do(srv, http.MethodPost, "/api/prompts/concise", `{"content":"again"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(srv, http.MethodPut, "/api/prompts/concise", `{"content":"Be very brief."}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(srv, http.MethodGet, "/api/prompts/concise", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got store.Prompt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Be very brief.", got.Content)

	w = do(srv, http.MethodGet, "/api/prompts", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Prompts []store.Prompt `json:"prompts"`
		Total   int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Prompts, 1)

	w = do(srv, http.MethodDelete, "/api/prompts/concise", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(srv, http.MethodGet, "/api/prompts/concise", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(srv, http.MethodPut, "/api/prompts/concise", `{"content":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(srv, http.MethodDelete, "/api/prompts/concise", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPromptRoutes_Invalid(t *testing.T) {
	up := newUpstream(t, chatStream())
	srv := newTestServer(t, up, newTestStore(t))

	w := do(srv, http.MethodPost, "/api/prompts/empty", `{"content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errType, _ := errorBody(t, w)
	assert.Equal(t, "invalid_request_error", errType)
}

func TestTemplateRoutes(t *testing.T) {
	up := newUpstream(t, chatStream())
	srv := newTestServer(t, up, newTestStore(t))

	w := do(srv, http.MethodPost, "/api/templates", `{
		"name":"Contact",
		"labels":["crm"],
		"schema":{"type":"object","properties":{"full_name":{"type":"string"}}}
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created store.Template
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"crm"}, created.Labels)

	w = do(srv, http.MethodGet, "/api/templates/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"full_name"`)

	w = do(srv, http.MethodGet, "/api/templates", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []store.Template
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = do(srv, http.MethodPost, "/api/templates", `{"name":"Bad","schema":[1,2]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(srv, http.MethodGet, "/api/templates/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunRoutes(t *testing.T) {
	up := newUpstream(t, chatStream())
	srv := newTestServer(t, up, newTestStore(t))

	w := do(srv, http.MethodPost, "/api/runs", `{
		"model":"openai",
		"model_variant":"gpt-4o-mini",
		"input_type":"form",
		"input_form":{"full_name":"Kim"},
		"output":{"text":"Hello Kim"}
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created store.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	w = do(srv, http.MethodGet, "/api/runs/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got store.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "gpt-4o-mini", got.ModelVariant)
	assert.JSONEq(t, `{"full_name":"Kim"}`, string(got.InputForm))

	w = do(srv, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []store.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = do(srv, http.MethodPost, "/api/runs", `{"model":"openai","input_type":"voice"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
