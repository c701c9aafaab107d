package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"whatsapp-crm/internal/apperr"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/whatsapp"
)

// MediaStore is the store surface the media handlers use.
type MediaStore interface {
	CreateMedia(media *models.Media) error
	GetMedia(id string) (*models.Media, error)
}

// MediaUploader pushes files to the provider. Nil-able: without provider
// credentials uploads stay local-only.
type MediaUploader interface {
	UploadMedia(fileData []byte, mimeType, filename string) (*whatsapp.MediaResponse, error)
	RetrieveMediaURL(mediaID string) (string, error)
}

type MediaHandler struct {
	store    MediaStore
	uploader MediaUploader
	dir      string
	log      *logger.Logger
}

func NewMediaHandler(store MediaStore, uploader MediaUploader, dir string, log *logger.Logger) *MediaHandler {
	return &MediaHandler{store: store, uploader: uploader, dir: dir, log: log.WithComponent("media")}
}

const maxUploadBytes = 16 << 20

// Upload accepts one multipart file, keeps a local copy, and forwards it to
// the provider's media store when credentials are configured. A provider
// failure is logged and leaves the local copy usable.
func (h *MediaHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, apperr.BadRequest("multipart field 'file' is required"))
		return
	}
	if fileHeader.Size > maxUploadBytes {
		fail(c, apperr.Validation("file too large"))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		fail(c, apperr.BadRequest("unreadable upload"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, apperr.BadRequest("unreadable upload"))
		return
	}

	media := &models.Media{
		ID:       uuid.NewString(),
		Filename: fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		FileSize: fileHeader.Size,
	}

	if err := os.MkdirAll(h.dir, 0o755); err == nil {
		localPath := filepath.Join(h.dir, media.ID)
		if writeErr := os.WriteFile(localPath, data, 0o644); writeErr == nil {
			media.LocalPath = localPath
		} else {
			h.log.Warn("local media copy failed", "error", writeErr)
		}
	}

	if h.uploader != nil {
		if resp, upErr := h.uploader.UploadMedia(data, media.MimeType, media.Filename); upErr != nil {
			h.log.Warn("provider media upload failed", "error", upErr)
		} else {
			media.ProviderID = resp.ID
		}
	}

	if media.LocalPath == "" && media.ProviderID == "" {
		fail(c, apperr.New(apperr.KindInternal, "media could not be stored"))
		return
	}

	if err := h.store.CreateMedia(media); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, media)
}

// Get serves a stored file: the local copy when present, otherwise a
// redirect to the provider's short-lived download URL.
func (h *MediaHandler) Get(c *gin.Context) {
	media, err := h.store.GetMedia(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	if media.LocalPath != "" {
		if media.MimeType != "" {
			c.Header("Content-Type", media.MimeType)
		}
		c.File(media.LocalPath)
		return
	}

	if media.ProviderID != "" && h.uploader != nil {
		url, err := h.uploader.RetrieveMediaURL(media.ProviderID)
		if err != nil {
			fail(c, err)
			return
		}
		c.Redirect(http.StatusTemporaryRedirect, url)
		return
	}

	fail(c, apperr.NotFound("media has no retrievable copy"))
}
