package zotero

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePath(t *testing.T) {
	assert.Equal(t, "users/1/items/ABCD1234/file", FilePath("users/1", "ABCD1234"))
}

func TestAuthorizeUpload_SendsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/1/items/KEY/file", r.URL.Path)
		assert.Equal(t, "*", r.Header.Get("If-None-Match"))
		assert.Equal(t, "k", r.Header.Get(HeaderAPIKey))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "abc", r.PostForm.Get("md5"))
		assert.Equal(t, "paper.pdf", r.PostForm.Get("filename"))

		_, _ = w.Write([]byte(`{"url":"https://up.example/x","contentType":"multipart/form-data","prefix":"P","suffix":"S","uploadKey":"UK"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	auth, err := client.AuthorizeUpload(context.Background(), "k", "users/1/items/KEY/file", url.Values{
		"md5":      {"abc"},
		"filename": {"paper.pdf"},
	})
	require.NoError(t, err)
	assert.False(t, bool(auth.Exists))
	assert.Equal(t, "UK", auth.UploadKey)
	assert.Equal(t, "P", auth.Prefix)
}

func TestAuthorizeUpload_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.AuthorizeUpload(context.Background(), "k", "users/1/items/KEY/file", url.Values{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestUploadFile_OmitsAPIKey(t *testing.T) {
	var got []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(HeaderAPIKey))
		assert.Equal(t, "multipart/form-data", r.Header.Get("Content-Type"))
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	auth := &UploadAuthorization{URL: srv.URL + "/upload", ContentType: "multipart/form-data"}

	err := client.UploadFile(context.Background(), auth, []byte("P-data-S"), NewBandwidthLimiter(1<<20, nil))
	require.NoError(t, err)
	assert.Equal(t, "P-data-S", string(got))
}

func TestUploadFile_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.UploadFile(context.Background(), &UploadAuthorization{URL: srv.URL}, []byte("x"), nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRegisterUpload_AcceptsAnyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "UK", r.PostForm.Get("upload"))
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.RegisterUpload(context.Background(), "k", "users/1/items/KEY/file", "UK")
	require.NoError(t, err)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestBandwidthLimiter_NilIsUnlimited(t *testing.T) {
	var bl *BandwidthLimiter
	assert.Nil(t, NewBandwidthLimiter(0, nil))

	r := bl.WrapReader(context.Background(), nil)
	assert.Nil(t, r)
}
