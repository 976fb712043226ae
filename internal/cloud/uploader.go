// Package cloud uploads run artifacts to a Graph-style drive API using a
// client-credential bearer token, with single-shot PUTs for small files and
// chunked upload sessions for large ones.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/figueredoestupinan2025/rpa-productos/internal/config"
)

// Kind selects the remote base folder for an upload.
type Kind string

// Upload kinds and their remote folders (see config.CloudConfig).
const (
	KindJSON     Kind = "json"
	KindReport   Kind = "report"
	KindEvidence Kind = "evidence"
)

const tokenScope = "https://graph.microsoft.com/.default"

// Uploader talks to the drive REST API. All methods fail closed: any error
// is logged and reported as false, never propagated, because the upload
// stage is optional.
type Uploader struct {
	cfg    config.CloudConfig
	client *http.Client
	logger *zap.Logger
}

// NewUploader builds an unauthenticated Uploader.
func NewUploader(cfg config.CloudConfig, logger *zap.Logger) *Uploader {
	return &Uploader{cfg: cfg, logger: logger}
}

// Authenticate obtains a bearer token via the client-credential flow.
// Returns false when credentials are absent or the token endpoint errors.
func (u *Uploader) Authenticate(ctx context.Context) bool {
	if !u.cfg.IsConfigured() {
		u.logger.Warn("cloud upload not configured, missing credentials")
		return false
	}

	cc := &clientcredentials.Config{
		ClientID:     u.cfg.ClientID,
		ClientSecret: u.cfg.ClientSecret,
		TokenURL: fmt.Sprintf("%s/%s/oauth2/v2.0/token",
			strings.TrimRight(u.cfg.AuthorityURL, "/"), u.cfg.TenantID),
		Scopes: []string{tokenScope},
	}
	if _, err := cc.Token(ctx); err != nil {
		u.logger.Error("cloud authentication failed", zap.Error(err))
		return false
	}

	u.client = cc.Client(ctx)
	u.logger.Info("cloud authentication succeeded")
	return true
}

// UploadFile sends a local file to the remote folder selected by kind,
// choosing single-shot or chunked transfer by size.
func (u *Uploader) UploadFile(ctx context.Context, localPath, remotePath string, kind Kind) bool {
	if u.client == nil && !u.Authenticate(ctx) {
		return false
	}

	info, err := os.Stat(localPath)
	if err != nil {
		u.logger.Error("upload source missing", zap.String("path", localPath), zap.Error(err))
		return false
	}
	if info.Size() > u.cfg.MaxFileBytes {
		u.logger.Error("file exceeds upload limit",
			zap.String("path", localPath),
			zap.Int64("size", info.Size()),
			zap.Int64("max", u.cfg.MaxFileBytes))
		return false
	}

	base := u.basePath(kind)
	u.ensureDirectory(ctx, base)
	full := base + "/" + remotePath

	var ok bool
	if info.Size() < u.cfg.ChunkSizeBytes {
		ok = u.uploadSmall(ctx, localPath, full)
	} else {
		ok = u.uploadChunked(ctx, localPath, full, info.Size())
	}
	if ok {
		u.logger.Info("file uploaded",
			zap.String("remote", full),
			zap.Int64("size", info.Size()))
	}
	return ok
}

// UploadReport sends a spreadsheet report under the reports folder.
func (u *Uploader) UploadReport(ctx context.Context, path string) bool {
	return u.UploadFile(ctx, path, filepath.Base(path), KindReport)
}

// UploadBackup sends a JSON backup under the logs folder.
func (u *Uploader) UploadBackup(ctx context.Context, path string) bool {
	return u.UploadFile(ctx, path, filepath.Base(path), KindJSON)
}

// UploadEvidence sends an evidence artifact under the evidence folder.
func (u *Uploader) UploadEvidence(ctx context.Context, path string) bool {
	return u.UploadFile(ctx, path, filepath.Base(path), KindEvidence)
}

func (u *Uploader) basePath(kind Kind) string {
	switch kind {
	case KindReport:
		return u.cfg.ReportsPath
	case KindEvidence:
		return u.cfg.EvidencePath
	default:
		return u.cfg.JSONPath
	}
}

func (u *Uploader) driveBase() string {
	graph := strings.TrimRight(u.cfg.GraphURL, "/")
	if u.cfg.TargetUser != "" {
		return fmt.Sprintf("%s/users/%s/drive", graph, u.cfg.TargetUser)
	}
	return graph + "/me/drive"
}

func (u *Uploader) uploadSmall(ctx context.Context, localPath, remotePath string) bool {
	f, err := os.Open(localPath)
	if err != nil {
		u.logger.Error("open upload source", zap.String("path", localPath), zap.Error(err))
		return false
	}
	defer f.Close()

	target := fmt.Sprintf("%s/root:/%s:/content", u.driveBase(), escapePath(remotePath))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, f)
	if err != nil {
		u.logger.Error("build upload request", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Error("upload request failed", zap.String("remote", remotePath), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		u.logger.Error("upload rejected",
			zap.String("remote", remotePath),
			zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

func (u *Uploader) uploadChunked(ctx context.Context, localPath, remotePath string, size int64) bool {
	sessionURL, ok := u.createUploadSession(ctx, remotePath)
	if !ok {
		return false
	}

	f, err := os.Open(localPath)
	if err != nil {
		u.logger.Error("open upload source", zap.String("path", localPath), zap.Error(err))
		return false
	}
	defer f.Close()

	buf := make([]byte, u.cfg.ChunkSizeBytes)
	var sent int64
	for sent < size {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			u.logger.Error("read upload chunk", zap.Error(err))
			return false
		}
		chunk := buf[:n]

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
		if err != nil {
			u.logger.Error("build chunk request", zap.Error(err))
			return false
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", sent, sent+int64(n)-1, size))
		req.ContentLength = int64(n)

		resp, err := u.client.Do(req)
		if err != nil {
			u.logger.Error("chunk upload failed", zap.Int64("offset", sent), zap.Error(err))
			return false
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		default:
			// One bad chunk aborts the upload; there is no resumption.
			u.logger.Error("chunk rejected",
				zap.Int64("offset", sent),
				zap.Int("status", resp.StatusCode))
			return false
		}
		sent += int64(n)
		u.logger.Debug("chunk uploaded",
			zap.Int64("sent", sent),
			zap.Int64("total", size))
	}
	return true
}

func (u *Uploader) createUploadSession(ctx context.Context, remotePath string) (string, bool) {
	target := fmt.Sprintf("%s/root:/%s:/createUploadSession", u.driveBase(), escapePath(remotePath))
	payload, _ := json.Marshal(map[string]any{
		"item": map[string]any{
			"@microsoft.graph.conflictBehavior": u.cfg.ConflictBehavior,
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		u.logger.Error("build session request", zap.Error(err))
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Error("create upload session failed", zap.Error(err))
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		u.logger.Error("upload session rejected", zap.Int("status", resp.StatusCode))
		return "", false
	}

	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil || session.UploadURL == "" {
		u.logger.Error("decode upload session", zap.Error(err))
		return "", false
	}
	return session.UploadURL, true
}

// ensureDirectory checks and creates the remote folder level by level. A 409
// from a concurrent creation is tolerated; other failures are logged and
// left for the upload itself to surface.
func (u *Uploader) ensureDirectory(ctx context.Context, dir string) {
	clean := strings.Trim(strings.ReplaceAll(dir, "\\", "/"), "/")
	if clean == "" {
		return
	}

	segments := strings.Split(clean, "/")
	current := ""
	for _, segment := range segments {
		if current == "" {
			current = segment
		} else {
			current = current + "/" + segment
		}

		checkURL := fmt.Sprintf("%s/root:/%s", u.driveBase(), escapePath(current))
		status, ok := u.do(ctx, http.MethodGet, checkURL, nil)
		if !ok {
			return
		}
		switch status {
		case http.StatusOK:
			continue
		case http.StatusNotFound:
			u.createFolder(ctx, current, segment)
		default:
			u.logger.Warn("could not verify remote directory",
				zap.String("path", current),
				zap.Int("status", status))
		}
	}
}

func (u *Uploader) createFolder(ctx context.Context, path, name string) {
	var createURL string
	if parent := strings.TrimSuffix(path, "/"+name); parent != path && parent != "" {
		createURL = fmt.Sprintf("%s/root:/%s:/children", u.driveBase(), escapePath(parent))
	} else {
		createURL = u.driveBase() + "/root/children"
	}

	payload, _ := json.Marshal(map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "replace",
	})
	status, ok := u.do(ctx, http.MethodPost, createURL, payload)
	if !ok {
		return
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		u.logger.Info("remote directory created", zap.String("path", path))
	case http.StatusConflict:
		// Creation race: the folder appeared between the check and the POST.
		u.logger.Warn("remote directory already existed", zap.String("path", path))
	default:
		u.logger.Warn("could not create remote directory",
			zap.String("path", path),
			zap.Int("status", status))
	}
}

func (u *Uploader) do(ctx context.Context, method, target string, body []byte) (int, bool) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		u.logger.Error("build request", zap.String("url", target), zap.Error(err))
		return 0, false
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Error("request failed", zap.String("url", target), zap.Error(err))
		return 0, false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, true
}

// escapePath URL-escapes each path segment while preserving separators.
func escapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
