package save

import (
	"crypto/md5" //nolint:gosec // the file API identifies content by MD5
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// HashFile reads the file at fsPath and returns its contents and hex MD5.
func HashFile(fsPath string) ([]byte, string, error) {
	f, err := os.Open(fsPath)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s for hashing: %w", fsPath, err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // see import

	data, err := io.ReadAll(io.TeeReader(f, h))
	if err != nil {
		return nil, "", fmt.Errorf("hashing %s: %w", fsPath, err)
	}

	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// DetectMimeType guesses a MIME type from the file extension, falling
// back to content sniffing. Parameters such as charset are stripped.
func DetectMimeType(filename string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}

	mt, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return "application/octet-stream"
	}

	return mt
}
