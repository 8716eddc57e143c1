package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	uploadTimeout = 5 * time.Minute
	// MinIDPrefix is the shortest document id prefix accepted by ResolveDocumentID.
	MinIDPrefix = 8
)

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
}

// UploadOptions customizes UploadFile.
type UploadOptions struct {
	Category    *DocumentCategory
	Description string
	Tags        []string
	// Progress, when set, is called as file bytes are sent.
	Progress func(sent, total int64)
}

type uploadRequest struct {
	Filename    string            `json:"filename"`
	Category    *DocumentCategory `json:"category,omitempty"`
	Description *string           `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	MimeType    *string           `json:"mime_type,omitempty"`
}

// DownloadLink is a short-lived URL for fetching a document.
type DownloadLink struct {
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// DetectMimeType returns the content type used for an upload, or "" if unknown.
func DetectMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

// UploadFile runs the presigned upload flow: request a ticket, post the file
// to the storage URL, then confirm the upload.
func (c *Client) UploadFile(ctx context.Context, path string, opts UploadOptions) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading file metadata: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	filename := filepath.Base(path)
	req := uploadRequest{
		Filename: filename,
		Category: opts.Category,
		Tags:     opts.Tags,
	}
	if opts.Description != "" {
		req.Description = &opts.Description
	}
	mimeType := DetectMimeType(path)
	if mimeType != "" {
		req.MimeType = &mimeType
	}

	var ticket UploadTicket
	if err := c.PostJSON(ctx, "/documents", req, &ticket); err != nil {
		return nil, err
	}
	if err := c.uploadToStorage(ctx, &ticket, path, filename, mimeType, info.Size(), opts.Progress); err != nil {
		return nil, err
	}
	return c.ConfirmUpload(ctx, ticket.DocumentID, info.Size())
}

func (c *Client) uploadToStorage(ctx context.Context, ticket *UploadTicket, path, filename, mimeType string, size int64, progress func(sent, total int64)) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(form, ticket.UploadFields, file, filename, mimeType, size, progress))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ticket.UploadURL, pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	uploader := &http.Client{Timeout: uploadTimeout, Transport: c.httpClient().Transport}
	resp, err := uploader.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("uploading %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return newAPIError(http.MethodPost, req.URL.Path, resp)
	}
	return nil
}

func writeUploadForm(form *multipart.Writer, fields map[string]interface{}, file io.Reader, filename, mimeType string, size int64, progress func(sent, total int64)) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := fields[k].(string); ok {
			if err := form.WriteField(k, v); err != nil {
				return err
			}
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}
	var src io.Reader = file
	if progress != nil {
		src = &progressReader{r: file, total: size, fn: progress}
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return form.Close()
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}

// ConfirmUpload marks a presigned upload as finished.
func (c *Client) ConfirmUpload(ctx context.Context, id uuid.UUID, size int64) (*Document, error) {
	var doc Document
	if err := c.PostJSON(ctx, "/documents/"+id.String()+"/confirm", map[string]int64{"size_bytes": size}, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns one page of documents. Zero values are omitted.
func (c *Client) ListDocuments(ctx context.Context, limit, offset int) (*DocumentList, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	path := "/documents"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var list DocumentList
	if err := c.GetJSON(ctx, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetDocument fetches one document.
func (c *Client) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	if err := c.GetJSON(ctx, "/documents/"+id.String(), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document.
func (c *Client) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	return c.DeleteJSON(ctx, "/documents/"+id.String(), nil, nil)
}

// DownloadLink returns a presigned download URL.
func (c *Client) DownloadLink(ctx context.Context, id uuid.UUID) (*DownloadLink, error) {
	var link DownloadLink
	if err := c.GetJSON(ctx, "/documents/"+id.String()+"/download", &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// DownloadDocument streams a document into w and returns the byte count.
func (c *Client) DownloadDocument(ctx context.Context, id uuid.UUID, w io.Writer) (int64, error) {
	link, err := c.DownloadLink(ctx, id)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.DownloadURL, nil)
	if err != nil {
		return 0, err
	}
	downloader := &http.Client{Timeout: uploadTimeout, Transport: c.httpClient().Transport}
	resp, err := downloader.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading document %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, newAPIError(http.MethodGet, req.URL.Path, resp)
	}
	return io.Copy(w, resp.Body)
}

// ResolveDocumentID accepts a full UUID or a unique prefix of at least
// MinIDPrefix characters, matched against the first page of documents.
func (c *Client) ResolveDocumentID(ctx context.Context, ref string) (uuid.UUID, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	if len(ref) < MinIDPrefix {
		return uuid.Nil, fmt.Errorf("document id %q is too short; use at least %d characters", ref, MinIDPrefix)
	}
	list, err := c.ListDocuments(ctx, 100, 0)
	if err != nil {
		return uuid.Nil, err
	}
	var matches []uuid.UUID
	for _, doc := range list.Documents {
		if strings.HasPrefix(doc.ID.String(), ref) {
			matches = append(matches, doc.ID)
		}
	}
	switch len(matches) {
	case 0:
		return uuid.Nil, fmt.Errorf("no document matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return uuid.Nil, fmt.Errorf("document id %q is ambiguous (%d matches)", ref, len(matches))
	}
}
