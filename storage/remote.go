package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RemoteConfig locates the remote platform and maps the three logical
// collections to their remote ids.
type RemoteConfig struct {
	Endpoint             string
	ProjectID            string
	DatabaseID           string
	UsersCollectionID    string
	MessagesCollectionID string
	RequestsCollectionID string
	BucketID             string
	HTTPTimeout          time.Duration
}

// RemoteStore is the production Backend: document CRUD and account
// operations over HTTP REST, file uploads via multipart, and a
// websocket change feed (see feed.go).
type RemoteStore struct {
	cfg    RemoteConfig
	client *http.Client
}

// NewRemoteStore validates the configuration and builds a client.
func NewRemoteStore(cfg RemoteConfig) (*RemoteStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote store requires an endpoint")
	}
	if cfg.ProjectID == "" || cfg.DatabaseID == "" {
		return nil, fmt.Errorf("remote store requires project and database ids")
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	return &RemoteStore{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

func (s *RemoteStore) collectionID(col Collection) (string, error) {
	switch col {
	case CollectionUsers:
		return s.cfg.UsersCollectionID, nil
	case CollectionMessages:
		return s.cfg.MessagesCollectionID, nil
	case CollectionRequests:
		return s.cfg.RequestsCollectionID, nil
	default:
		return "", fmt.Errorf("unknown collection %q", col)
	}
}

func (s *RemoteStore) documentsURL(col Collection) (string, error) {
	colID, err := s.collectionID(col)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/databases/%s/collections/%s/documents", s.cfg.Endpoint, s.cfg.DatabaseID, colID), nil
}

// CreateDocument implements Store. An empty id is assigned client-side
// so callers always know the id of what they wrote.
func (s *RemoteStore) CreateDocument(ctx context.Context, col Collection, id string, fields Document) (Document, error) {
	base, err := s.documentsURL(col)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	body := map[string]interface{}{"documentId": id, "data": fields}
	return s.documentRequest(ctx, http.MethodPost, base, body)
}

// GetDocument implements Store.
func (s *RemoteStore) GetDocument(ctx context.Context, col Collection, id string) (Document, error) {
	base, err := s.documentsURL(col)
	if err != nil {
		return nil, err
	}
	return s.documentRequest(ctx, http.MethodGet, base+"/"+url.PathEscape(id), nil)
}

// UpdateDocument implements Store.
func (s *RemoteStore) UpdateDocument(ctx context.Context, col Collection, id string, fields Document) (Document, error) {
	base, err := s.documentsURL(col)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{"data": fields}
	return s.documentRequest(ctx, http.MethodPatch, base+"/"+url.PathEscape(id), body)
}

// ListDocuments implements Store. Filters become equality query
// parameters; the remote side applies them server-side.
func (s *RemoteStore) ListDocuments(ctx context.Context, col Collection, filters ...Filter) ([]Document, error) {
	base, err := s.documentsURL(col)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for _, f := range filters {
		query.Add("equal", f.Field+"="+f.Value)
	}
	target := base
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	resp, err := s.do(ctx, http.MethodGet, target, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var payload struct {
		Documents []Document `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode document list: %w", err)
	}
	return payload.Documents, nil
}

// UploadFile implements FileStore. The size gate runs before the
// request is even built.
func (s *RemoteStore) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) > MaxFileSize {
		return "", ErrFileTooLarge
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("fileId", uuid.NewString()); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	target := fmt.Sprintf("%s/storage/buckets/%s/files", s.cfg.Endpoint, s.cfg.BucketID)
	resp, err := s.do(ctx, http.MethodPost, target, &buf, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "UploadFile",
		"file_id":   payload.ID,
		"file_name": name,
		"size":      len(data),
	}).Info("File uploaded")
	return payload.ID, nil
}

// FilePreviewURL implements FileStore.
func (s *RemoteStore) FilePreviewURL(fileID string) string {
	return fmt.Sprintf("%s/storage/buckets/%s/files/%s/preview?project=%s",
		s.cfg.Endpoint, s.cfg.BucketID, url.PathEscape(fileID), s.cfg.ProjectID)
}

// FileDownloadURL implements FileStore.
func (s *RemoteStore) FileDownloadURL(fileID string) string {
	return fmt.Sprintf("%s/storage/buckets/%s/files/%s/download?project=%s",
		s.cfg.Endpoint, s.cfg.BucketID, url.PathEscape(fileID), s.cfg.ProjectID)
}

// CreateAccount implements Accounts: create, then log the new account
// in, returning the stable user id.
func (s *RemoteStore) CreateAccount(ctx context.Context, email, password string) (string, error) {
	body := map[string]interface{}{"email": email, "password": password}
	resp, err := s.doJSON(ctx, http.MethodPost, s.cfg.Endpoint+"/account", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	io.Copy(io.Discard, resp.Body)

	return s.Login(ctx, email, password)
}

// Login implements Accounts.
func (s *RemoteStore) Login(ctx context.Context, email, password string) (string, error) {
	body := map[string]interface{}{"email": email, "password": password}
	resp, err := s.doJSON(ctx, http.MethodPost, s.cfg.Endpoint+"/account/sessions", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode session: %w", err)
	}
	if payload.UserID == "" {
		return "", fmt.Errorf("session response carried no user id")
	}
	return payload.UserID, nil
}

// CurrentUser implements Accounts.
func (s *RemoteStore) CurrentUser(ctx context.Context) (string, error) {
	resp, err := s.do(ctx, http.MethodGet, s.cfg.Endpoint+"/account", nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return "", ErrNoSession
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode account: %w", err)
	}
	return payload.ID, nil
}

// Logout implements Accounts.
func (s *RemoteStore) Logout(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodDelete, s.cfg.Endpoint+"/account/sessions/current", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return checkStatus(resp)
}

func (s *RemoteStore) documentRequest(ctx context.Context, method, target string, body interface{}) (Document, error) {
	var resp *http.Response
	var err error
	if body != nil {
		resp, err = s.doJSON(ctx, method, target, body)
	} else {
		resp, err = s.do(ctx, method, target, nil, "")
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

func (s *RemoteStore) doJSON(ctx context.Context, method, target string, body interface{}) (*http.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return s.do(ctx, method, target, bytes.NewReader(encoded), "application/json")
}

func (s *RemoteStore) do(ctx context.Context, method, target string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Project", s.cfg.ProjectID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, target, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("remote store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}
