package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	submitCompany, submitContratoSocial, submitCartaoCNPJ, submitCertidaoNegativa = "", "", "", ""
	submitWait, getWait = false, false
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubmitUploadsSelectedFiles(t *testing.T) {
	var fields []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analyses", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "ACME", r.FormValue("company_name"))
		for name := range r.MultipartForm.File {
			fields = append(fields, name)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"6f1c1a8e-7f43-4f7a-9a55-1b1f5b8f7c10","status":"PENDING"}`))
	}))
	defer srv.Close()

	pdf := filepath.Join(t.TempDir(), "cartao.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4\n"), 0o644))

	out, err := execute(t, "submit", "--api-url", srv.URL, "--company", "ACME", "--cartao-cnpj", pdf)
	require.NoError(t, err)
	assert.Equal(t, []string{"cartao_cnpj"}, fields)

	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "PENDING", created["status"])
}

func TestSubmitRequiresADocument(t *testing.T) {
	_, err := execute(t, "submit", "--api-url", "http://127.0.0.1:1", "--company", "ACME")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of")
}

func TestGetSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"analysis_job_not_found","message":"Analysis job not found"}}`))
	}))
	defer srv.Close()

	_, err := execute(t, "get", "--api-url", srv.URL, "6f1c1a8e-7f43-4f7a-9a55-1b1f5b8f7c10")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "analysis_job_not_found", apiErr.Code)
}

func TestGetWaitPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"id":"x","status":"RUNNING"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"x","status":"SUCCEEDED","decision":"APROVADO"}`))
	}))
	defer srv.Close()

	out, err := execute(t, "get", "--api-url", srv.URL, "--wait", "--poll-interval", "5ms", "x")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, out, `"APROVADO"`)
}
