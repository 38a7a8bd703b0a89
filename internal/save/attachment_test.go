package save

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-go/internal/credential"
	"github.com/tonimelisma/zotero-go/internal/library"
	"github.com/tonimelisma/zotero-go/internal/prefs"
	"github.com/tonimelisma/zotero-go/internal/zotero"
)

type uploadFixture struct {
	rec      *recorder
	srv      *httptest.Server
	uploader *Uploader
}

func newUploadFixture(t *testing.T, authorized bool, responses ...func(srvURL string) func(w http.ResponseWriter)) *uploadFixture {
	t.Helper()

	rec := &recorder{}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	for _, r := range responses {
		rec.responses = append(rec.responses, r(srv.URL))
	}

	creds := credential.NewStore(prefs.NewMemoryStore(), nil)
	if authorized {
		require.NoError(t, creds.Save(context.Background(), &credential.Credential{
			Token: "t", TokenSecret: "KEY", UserID: "1", Username: "alice",
		}))
	}

	api := zotero.NewClient(srv.URL, srv.Client(), nil, "test")
	u := NewUploader(api, creds, zotero.NewBandwidthLimiter(1<<20, nil), 0, nil)
	u.nowFunc = func() time.Time { return time.UnixMilli(1700000000123) }

	return &uploadFixture{rec: rec, srv: srv, uploader: u}
}

func fixed(code int, body string) func(string) func(http.ResponseWriter) {
	return func(string) func(http.ResponseWriter) { return status(code, body) }
}

func validAttachment() *Attachment {
	return &Attachment{
		Data:     []byte{0x00, 0x01, 0xFF},
		Filename: "paper.pdf",
		ItemKey:  "ABCD2345",
		MD5:      "0123456789abcdef0123456789abcdef",
		MimeType: "application/pdf",
	}
}

func TestUpload_FullSequence(t *testing.T) {
	f := newUploadFixture(t, true,
		func(srvURL string) func(http.ResponseWriter) {
			return status(http.StatusOK, `{"url":"`+srvURL+`/s3","contentType":"multipart/form-data; boundary=x",`+
				`"prefix":"pré-","suffix":"-fin","uploadKey":"UK1"}`)
		},
		fixed(http.StatusCreated, ""),
		fixed(http.StatusNoContent, ""),
	)

	att := validAttachment()
	att.Charset = "utf-8"

	got, err := f.uploader.Upload(context.Background(), att, library.Descriptor{})
	require.NoError(t, err)
	assert.Same(t, att, got)

	reqs := f.rec.all()
	require.Len(t, reqs, 3)

	// Phase 1: authorization.
	assert.Equal(t, "/users/1/items/ABCD2345/file", reqs[0].Path)
	assert.Equal(t, "KEY", reqs[0].APIKey)
	assert.Equal(t, "*", reqs[0].Header.Get("If-None-Match"))
	assert.Equal(t, "application/x-www-form-urlencoded", reqs[0].Header.Get("Content-Type"))

	form, err := url.ParseQuery(string(reqs[0].Body))
	require.NoError(t, err)
	assert.Equal(t, url.Values{
		"md5":         {"0123456789abcdef0123456789abcdef"},
		"filename":    {"paper.pdf"},
		"filesize":    {"3"},
		"mtime":       {"1700000000123"},
		"contentType": {"application/pdf"},
		"charset":     {"utf-8"},
	}, form)

	// Phase 2: upload, byte-exact framing, no API key.
	assert.Equal(t, "/s3", reqs[1].Path)
	assert.Empty(t, reqs[1].APIKey)
	assert.Equal(t, "multipart/form-data; boundary=x", reqs[1].Header.Get("Content-Type"))

	want := append([]byte("pr\xc3\xa9-"), 0x00, 0x01, 0xFF)
	want = append(want, []byte("-fin")...)
	assert.Equal(t, want, reqs[1].Body)

	// Phase 3: registration.
	assert.Equal(t, "/users/1/items/ABCD2345/file", reqs[2].Path)
	assert.Equal(t, "KEY", reqs[2].APIKey)
	assert.Equal(t, "*", reqs[2].Header.Get("If-None-Match"))
	assert.Equal(t, "upload=UK1", string(reqs[2].Body))
}

func TestUpload_ExistingContentSkipsUpload(t *testing.T) {
	for _, body := range []string{`{"exists":1}`, `{"exists":true}`} {
		t.Run(body, func(t *testing.T) {
			f := newUploadFixture(t, true, fixed(http.StatusOK, body))

			att := validAttachment()
			got, err := f.uploader.Upload(context.Background(), att, library.Descriptor{})
			require.NoError(t, err)
			assert.Same(t, att, got)
			assert.Len(t, f.rec.all(), 1)
		})
	}
}

func TestUpload_RegistrationFailureIsTolerated(t *testing.T) {
	f := newUploadFixture(t, true,
		func(srvURL string) func(http.ResponseWriter) {
			return status(http.StatusOK, `{"url":"`+srvURL+`/s3","contentType":"application/pdf","prefix":"","suffix":"","uploadKey":"UK"}`)
		},
		fixed(http.StatusCreated, ""),
		fixed(http.StatusPreconditionFailed, "exists"),
	)

	_, err := f.uploader.Upload(context.Background(), validAttachment(), library.Descriptor{})
	require.NoError(t, err)
	assert.Len(t, f.rec.all(), 3)
}

func TestUpload_UploadFailureStopsBeforeRegistration(t *testing.T) {
	f := newUploadFixture(t, true,
		func(srvURL string) func(http.ResponseWriter) {
			return status(http.StatusOK, `{"url":"`+srvURL+`/s3","contentType":"application/pdf","uploadKey":"UK"}`)
		},
		fixed(http.StatusForbidden, "expired"),
	)

	_, err := f.uploader.Upload(context.Background(), validAttachment(), library.Descriptor{})
	require.ErrorIs(t, err, zotero.ErrForbidden)
	assert.Len(t, f.rec.all(), 2)
}

func TestUpload_MalformedAuthorization(t *testing.T) {
	f := newUploadFixture(t, true, fixed(http.StatusOK, `<html>nope</html>`))

	_, err := f.uploader.Upload(context.Background(), validAttachment(), library.Descriptor{})
	require.ErrorIs(t, err, zotero.ErrMalformedResponse)

	var apiErr *zotero.APIError
	assert.NotErrorAs(t, err, &apiErr)
}

func TestUpload_AuthorizationHTTPError(t *testing.T) {
	f := newUploadFixture(t, true, fixed(http.StatusRequestEntityTooLarge, "quota"))

	_, err := f.uploader.Upload(context.Background(), validAttachment(), library.Descriptor{})

	var apiErr *zotero.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusRequestEntityTooLarge, apiErr.StatusCode)
}

func TestUpload_ValidationHappensBeforeNetwork(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Attachment)
	}{
		{"path traversal key", func(a *Attachment) { a.ItemKey = "../etc" }},
		{"non-ascii key", func(a *Attachment) { a.ItemKey = "ÄBCD" }},
		{"missing key", func(a *Attachment) { a.ItemKey = "" }},
		{"missing data", func(a *Attachment) { a.Data = nil }},
		{"missing md5", func(a *Attachment) { a.MD5 = "" }},
		{"missing mime type", func(a *Attachment) { a.MimeType = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUploadFixture(t, true)

			att := validAttachment()
			tt.mutate(att)

			_, err := f.uploader.Upload(context.Background(), att, library.Descriptor{})
			require.ErrorIs(t, err, zotero.ErrValidation)
			assert.Empty(t, f.rec.all())
		})
	}
}

func TestUpload_SizeLimit(t *testing.T) {
	f := newUploadFixture(t, true)
	f.uploader.maxSize = 2

	_, err := f.uploader.Upload(context.Background(), validAttachment(), library.Descriptor{})
	require.ErrorIs(t, err, zotero.ErrValidation)
	assert.Empty(t, f.rec.all())
}

func TestUpload_NotAuthorized(t *testing.T) {
	f := newUploadFixture(t, false)

	_, err := f.uploader.Upload(context.Background(), validAttachment(), library.Descriptor{})
	require.ErrorIs(t, err, zotero.ErrNotAuthorized)
	assert.Empty(t, f.rec.all())
}

func TestUpload_GroupLibraryPath(t *testing.T) {
	f := newUploadFixture(t, true, fixed(http.StatusOK, `{"exists":1}`))

	g, err := library.Group("5")
	require.NoError(t, err)

	_, err = f.uploader.Upload(context.Background(), validAttachment(), g)
	require.NoError(t, err)
	assert.Equal(t, "/groups/5/items/ABCD2345/file", f.rec.all()[0].Path)
}

func TestHashFileAndMimeType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	data, sum, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)

	assert.Equal(t, "text/plain", DetectMimeType("hello.txt", data))
	assert.Equal(t, "application/pdf", DetectMimeType("paper", []byte("%PDF-1.7\n")))

	_, _, err = HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
