package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oremus-labs/kanuni/internal/auth"
	"github.com/oremus-labs/kanuni/internal/clock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

type failingToken struct{ err error }

func (f failingToken) AccessToken(context.Context) (string, error) { return "", f.err }

func newTestServer(t *testing.T, register func(r *gin.Engine)) (*Client, *httptest.Server) {
	t.Helper()
	router := gin.New()
	register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	client := New(srv.URL+"/api/v1", staticToken("test-token"), 5*time.Second)
	return client, srv
}

func TestListDocumentsSendsBearerAndQuery(t *testing.T) {
	t.Parallel()

	docID := uuid.New()
	client, _ := newTestServer(t, func(r *gin.Engine) {
		r.GET("/api/v1/documents", func(c *gin.Context) {
			if got := c.GetHeader("Authorization"); got != "Bearer test-token" {
				c.JSON(http.StatusUnauthorized, gin.H{"message": "bad token " + got})
				return
			}
			if c.Query("limit") != "25" || c.Query("offset") != "50" {
				c.JSON(http.StatusBadRequest, gin.H{"message": "unexpected query " + c.Request.URL.RawQuery})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"documents": []gin.H{{"id": docID.String(), "filename": "lease.pdf", "created_at": time.Now(), "updated_at": time.Now()}},
				"total":     1,
				"limit":     25,
				"offset":    50,
			})
		})
	})

	list, err := client.ListDocuments(context.Background(), 25, 50)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(list.Documents) != 1 || list.Documents[0].ID != docID || list.Documents[0].Filename != "lease.pdf" {
		t.Fatalf("unexpected documents: %+v", list.Documents)
	}
}

func TestErrorCategories(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   Category
	}{
		{http.StatusUnauthorized, CategoryUnauthorized},
		{http.StatusForbidden, CategoryForbidden},
		{http.StatusNotFound, CategoryNotFound},
		{http.StatusRequestEntityTooLarge, CategoryTooLarge},
		{http.StatusTooManyRequests, CategoryRateLimited},
		{http.StatusConflict, CategoryConflict},
		{http.StatusBadGateway, CategoryServer},
		{http.StatusUnprocessableEntity, CategoryClient},
	}
	client, _ := newTestServer(t, func(r *gin.Engine) {
		r.GET("/api/v1/status/:code", func(c *gin.Context) {
			status, _ := strconv.Atoi(c.Param("code"))
			c.JSON(status, gin.H{"error": "boom", "message": "status " + c.Param("code")})
		})
	})

	for _, tc := range cases {
		var target map[string]interface{}
		err := client.GetJSON(context.Background(), "/status/"+strconv.Itoa(tc.status), &target)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: expected APIError got %v", tc.status, err)
		}
		if apiErr.Status != tc.status || apiErr.Category != tc.want {
			t.Fatalf("status %d: got %d/%s", tc.status, apiErr.Status, apiErr.Category)
		}
		if apiErr.Code != "boom" || apiErr.Message != "status "+strconv.Itoa(tc.status) {
			t.Fatalf("status %d: body not parsed: %+v", tc.status, apiErr)
		}
	}
}

func TestTokenFailureStopsRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client, _ := newTestServer(t, func(r *gin.Engine) {
		r.GET("/api/v1/auth/profile", func(c *gin.Context) {
			hits.Add(1)
			c.JSON(http.StatusOK, gin.H{})
		})
	})
	client.Tokens = failingToken{err: &auth.AuthenticationError{Message: "no stored credentials", Err: auth.ErrNotAuthenticated}}

	_, err := client.Profile(context.Background())
	if !errors.Is(err, auth.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("request must not be sent without a token")
	}
}

func TestRefreshIsAnonymous(t *testing.T) {
	t.Parallel()

	client, _ := newTestServer(t, func(r *gin.Engine) {
		r.POST("/api/v1/auth/refresh", func(c *gin.Context) {
			if c.GetHeader("Authorization") != "" {
				c.JSON(http.StatusBadRequest, gin.H{"message": "refresh must not carry a bearer"})
				return
			}
			var body struct {
				RefreshToken string `json:"refresh_token"`
			}
			if err := c.ShouldBindJSON(&body); err != nil || body.RefreshToken != "rt-1" {
				c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid refresh token"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"user":         gin.H{"id": "u-1", "email": "ada@example.com"},
				"access_token": "at-2",
				"expires_in":   900,
			})
		})
	})
	client.Tokens = failingToken{err: errors.New("must not be called")}

	grant, err := client.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if grant.AccessToken != "at-2" || grant.ExpiresIn != 900 || grant.Email != "ada@example.com" {
		t.Fatalf("unexpected grant: %+v", grant)
	}

	_, err = client.Refresh(context.Background(), "wrong")
	if !HasCategory(err, CategoryUnauthorized) {
		t.Fatalf("expected unauthorized got %v", err)
	}
}

func TestDeviceFlowPollsUntilApproved(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	client, _ := newTestServer(t, func(r *gin.Engine) {
		r.POST("/api/v1/auth/device/token", func(c *gin.Context) {
			switch polls.Add(1) {
			case 1:
				c.JSON(http.StatusBadRequest, gin.H{"error": "authorization_pending", "error_description": "waiting"})
			case 2:
				c.JSON(http.StatusBadRequest, gin.H{"error": "slow_down", "error_description": "too fast"})
			default:
				c.JSON(http.StatusOK, gin.H{"access_token": "device-at", "refresh_token": "device-rt", "expires_in": 3600})
			}
		})
	})

	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	grant, err := client.WaitForDeviceToken(context.Background(), &DeviceCode{DeviceCode: "dc", Interval: 5, ExpiresIn: 600}, clk)
	if err != nil {
		t.Fatalf("WaitForDeviceToken: %v", err)
	}
	if grant.AccessToken != "device-at" || grant.RefreshToken != "device-rt" {
		t.Fatalf("unexpected grant %+v", grant)
	}
	waits := clk.Waits()
	if len(waits) != 3 || waits[0] != 5*time.Second || waits[2] != 10*time.Second {
		t.Fatalf("unexpected poll waits %v", waits)
	}
}

func TestDeviceFlowDenied(t *testing.T) {
	t.Parallel()

	client, _ := newTestServer(t, func(r *gin.Engine) {
		r.POST("/api/v1/auth/device/token", func(c *gin.Context) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "access_denied"})
		})
	})
	_, err := client.WaitForDeviceToken(context.Background(), &DeviceCode{DeviceCode: "dc", Interval: 1}, clock.NewFake(time.Now()))
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied got %v", err)
	}
}

func TestUploadFileRunsPresignedFlow(t *testing.T) {
	t.Parallel()

	docID := uuid.New()
	content := []byte("%PDF-1.4 lease agreement")
	var storageURL string
	var confirmedSize atomic.Int64
	client, srv := newTestServer(t, func(r *gin.Engine) {
		r.POST("/api/v1/documents", func(c *gin.Context) {
			var body struct {
				Filename string  `json:"filename"`
				MimeType *string `json:"mime_type"`
			}
			if err := c.ShouldBindJSON(&body); err != nil || body.Filename != "lease.pdf" || body.MimeType == nil || *body.MimeType != "application/pdf" {
				c.JSON(http.StatusBadRequest, gin.H{"message": "bad upload request"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{
				"document_id":   docID.String(),
				"upload_url":    storageURL,
				"upload_fields": gin.H{"key": "uploads/" + docID.String(), "policy": "p"},
				"expires_at":    time.Now().Add(time.Hour),
			})
		})
		r.POST("/storage", func(c *gin.Context) {
			if c.GetHeader("Authorization") != "" {
				c.String(http.StatusBadRequest, "storage must not receive the bearer")
				return
			}
			if c.PostForm("key") != "uploads/"+docID.String() || c.PostForm("policy") != "p" {
				c.String(http.StatusBadRequest, "missing presigned fields")
				return
			}
			fh, err := c.FormFile("file")
			if err != nil {
				c.String(http.StatusBadRequest, err.Error())
				return
			}
			f, _ := fh.Open()
			defer f.Close()
			got, _ := io.ReadAll(f)
			if !bytes.Equal(got, content) || fh.Filename != "lease.pdf" {
				c.String(http.StatusBadRequest, "file mismatch")
				return
			}
			c.Status(http.StatusNoContent)
		})
		r.POST("/api/v1/documents/:id/confirm", func(c *gin.Context) {
			var body struct {
				SizeBytes int64 `json:"size_bytes"`
			}
			_ = c.ShouldBindJSON(&body)
			confirmedSize.Store(body.SizeBytes)
			c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "filename": "lease.pdf", "created_at": time.Now(), "updated_at": time.Now()})
		})
	})
	storageURL = srv.URL + "/storage"

	path := filepath.Join(t.TempDir(), "lease.pdf")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var lastSent atomic.Int64
	doc, err := client.UploadFile(context.Background(), path, UploadOptions{
		Progress: func(sent, total int64) { lastSent.Store(sent) },
	})
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if doc.ID != docID {
		t.Fatalf("expected %s got %s", docID, doc.ID)
	}
	if confirmedSize.Load() != int64(len(content)) {
		t.Fatalf("confirm sent size %d", confirmedSize.Load())
	}
	if lastSent.Load() != int64(len(content)) {
		t.Fatalf("progress reported %d bytes", lastSent.Load())
	}
}

func TestDownloadDocument(t *testing.T) {
	t.Parallel()

	docID := uuid.New()
	var fileURL string
	client, srv := newTestServer(t, func(r *gin.Engine) {
		r.GET("/api/v1/documents/:id/download", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"download_url": fileURL, "expires_at": time.Now().Add(time.Minute)})
		})
		r.GET("/files/:id", func(c *gin.Context) {
			c.Data(http.StatusOK, "application/pdf", []byte("contents"))
		})
	})
	fileURL = srv.URL + "/files/" + docID.String()

	var buf bytes.Buffer
	n, err := client.DownloadDocument(context.Background(), docID, &buf)
	if err != nil {
		t.Fatalf("DownloadDocument: %v", err)
	}
	if n != 8 || buf.String() != "contents" {
		t.Fatalf("unexpected download %d %q", n, buf.String())
	}
}

func TestResolveDocumentID(t *testing.T) {
	t.Parallel()

	a := uuid.MustParse("0a1b2c3d-0000-4000-8000-000000000001")
	b := uuid.MustParse("0a1b2c3d-1111-4000-8000-000000000002")
	c2 := uuid.MustParse("ffeeddcc-0000-4000-8000-000000000003")
	client, _ := newTestServer(t, func(r *gin.Engine) {
		r.GET("/api/v1/documents", func(c *gin.Context) {
			docs := []gin.H{}
			for _, id := range []uuid.UUID{a, b, c2} {
				docs = append(docs, gin.H{"id": id.String(), "filename": "f", "created_at": time.Now(), "updated_at": time.Now()})
			}
			c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
		})
	})

	ctx := context.Background()
	if id, err := client.ResolveDocumentID(ctx, c2.String()); err != nil || id != c2 {
		t.Fatalf("full id: %v %v", id, err)
	}
	if id, err := client.ResolveDocumentID(ctx, "ffeeddcc"); err != nil || id != c2 {
		t.Fatalf("prefix: %v %v", id, err)
	}
	if _, err := client.ResolveDocumentID(ctx, "0a1b2c3d"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("expected ambiguous error got %v", err)
	}
	if _, err := client.ResolveDocumentID(ctx, "0a1b"); err == nil {
		t.Fatalf("expected short prefix error")
	}
	if _, err := client.ResolveDocumentID(ctx, "12345678"); err == nil {
		t.Fatalf("expected no match error")
	}
}
