package save

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tonimelisma/zotero-go/internal/credential"
	"github.com/tonimelisma/zotero-go/internal/library"
	"github.com/tonimelisma/zotero-go/internal/zotero"
)

// Attachment is a file to store under an existing attachment item.
// ModTime defaults to the upload time.
type Attachment struct {
	Data     []byte `validate:"required"`
	Filename string
	ItemKey  string `validate:"required,alphanum"`
	MD5      string `validate:"required"`
	MimeType string `validate:"required"`
	Charset  string
	ModTime  time.Time
}

// Uploader stores attachment content.
type Uploader struct {
	api      *zotero.Client
	creds    *credential.Store
	limiter  *zotero.BandwidthLimiter
	maxSize  int64
	validate *validator.Validate
	logger   *slog.Logger

	nowFunc func() time.Time
}

// NewUploader creates an Uploader. limiter may be nil (unlimited);
// maxSize of zero disables the size check.
func NewUploader(api *zotero.Client, creds *credential.Store, limiter *zotero.BandwidthLimiter, maxSize int64, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Uploader{
		api:      api,
		creds:    creds,
		limiter:  limiter,
		maxSize:  maxSize,
		validate: validator.New(),
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Upload stores att's content in lib and returns att. When the server
// already has identical content nothing is uploaded.
func (u *Uploader) Upload(ctx context.Context, att *Attachment, lib library.Descriptor) (*Attachment, error) {
	if err := u.check(att); err != nil {
		return nil, err
	}

	cred, err := u.creds.Load(ctx)
	if err != nil {
		return nil, err
	}

	if cred == nil {
		return nil, fmt.Errorf("%w: no credential available for upload", zotero.ErrNotAuthorized)
	}

	filePath := zotero.FilePath(lib.Path(cred.UserID), att.ItemKey)

	authz, err := u.api.AuthorizeUpload(ctx, cred.APIKey(), filePath, u.uploadForm(att))
	if err != nil {
		return nil, err
	}

	if authz.Exists {
		u.logger.Info("attachment exists, no upload necessary", slog.String("item", att.ItemKey))
		return att, nil
	}

	u.logger.Debug("upload authorized", slog.String("item", att.ItemKey))

	body := frame(authz.Prefix, att.Data, authz.Suffix)

	if err := u.api.UploadFile(ctx, authz, body, u.limiter); err != nil {
		return nil, err
	}

	resp, err := u.api.RegisterUpload(ctx, cred.APIKey(), filePath, authz.UploadKey)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		u.logger.Warn("upload registration returned non-success status",
			slog.String("item", att.ItemKey),
			slog.Int("status", resp.StatusCode),
		)
	} else {
		u.logger.Info("upload registered", slog.String("item", att.ItemKey))
	}

	return att, nil
}

// check validates att before any network activity.
func (u *Uploader) check(att *Attachment) error {
	if att == nil {
		return fmt.Errorf("%w: nil attachment", zotero.ErrValidation)
	}

	if err := u.validate.Struct(att); err != nil {
		return fmt.Errorf("%w: %s", zotero.ErrValidation, describe(err))
	}

	if u.maxSize > 0 && int64(len(att.Data)) > u.maxSize {
		return fmt.Errorf("%w: attachment is %d bytes, limit is %d", zotero.ErrValidation, len(att.Data), u.maxSize)
	}

	return nil
}

func (u *Uploader) uploadForm(att *Attachment) url.Values {
	mtime := att.ModTime
	if mtime.IsZero() {
		mtime = u.nowFunc()
	}

	form := url.Values{
		"md5":         {att.MD5},
		"filename":    {att.Filename},
		"filesize":    {strconv.Itoa(len(att.Data))},
		"mtime":       {strconv.FormatInt(mtime.UnixMilli(), 10)},
		"contentType": {att.MimeType},
	}

	if att.Charset != "" {
		form.Set("charset", att.Charset)
	}

	return form
}

// frame concatenates the UTF-8 prefix, the content and the UTF-8 suffix.
func frame(prefix string, data []byte, suffix string) []byte {
	body := make([]byte, 0, len(prefix)+len(data)+len(suffix))
	body = append(body, prefix...)
	body = append(body, data...)
	body = append(body, suffix...)

	return body
}

// describe turns validator errors into a short field list.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))

	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			parts = append(parts, e.Field()+" is required")
		case "alphanum":
			parts = append(parts, e.Field()+" must be alphanumeric")
		default:
			parts = append(parts, e.Field()+" is invalid")
		}
	}

	return strings.Join(parts, "; ")
}
