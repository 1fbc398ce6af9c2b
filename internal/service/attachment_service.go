package service

import (
	"errors"
	"io/fs"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-appeal-api/pkg/config"
	appErrors "github.com/noah-isme/uni-appeal-api/pkg/errors"
	"github.com/noah-isme/uni-appeal-api/pkg/storage"
)

// extensionByMime maps the accepted attachment types to the extension used
// for the stored file name.
var extensionByMime = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

// StoredAttachment describes a persisted upload.
type StoredAttachment struct {
	Name         string
	OriginalName string
	Mime         string
	Size         int64
}

// AttachmentService validates and stores appeal attachments on disk.
type AttachmentService struct {
	storage *storage.LocalStorage
	maxSize int64
	allowed map[string]string
	logger  *zap.Logger
}

// NewAttachmentService constructs an AttachmentService from the uploads
// configuration. MIME types outside extensionByMime are ignored.
func NewAttachmentService(store *storage.LocalStorage, cfg config.UploadsConfig, logger *zap.Logger) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]string, len(cfg.AllowedMIMEs))
	for _, mime := range cfg.AllowedMIMEs {
		mime = strings.ToLower(strings.TrimSpace(mime))
		if ext, ok := extensionByMime[mime]; ok {
			allowed[mime] = ext
		}
	}
	if len(allowed) == 0 {
		allowed = extensionByMime
	}
	return &AttachmentService{
		storage: store,
		maxSize: cfg.MaxFileSizeBytes,
		allowed: allowed,
		logger:  logger,
	}
}

// Store validates the upload and writes it under a collision-free name
// derived from the owning appeal ID.
func (s *AttachmentService) Store(fileHeader *multipart.FileHeader, appealID string) (*StoredAttachment, error) {
	if fileHeader == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attachment file is required")
	}
	if s.maxSize > 0 && fileHeader.Size > s.maxSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attachment exceeds the maximum allowed size")
	}

	mime := strings.ToLower(strings.TrimSpace(fileHeader.Header.Get("Content-Type")))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	ext, ok := s.allowed[mime]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attachment type is not allowed")
	}

	storedName := appealID + "-" + uuid.NewString() + ext
	if err := s.storage.SaveUpload(fileHeader, storedName); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}

	return &StoredAttachment{
		Name:         storedName,
		OriginalName: filepath.Base(fileHeader.Filename),
		Mime:         mime,
		Size:         fileHeader.Size,
	}, nil
}

// Remove deletes a stored attachment. A missing file is not an error so
// replace and delete flows stay idempotent.
func (s *AttachmentService) Remove(storedName string) error {
	if storedName == "" {
		return nil
	}
	if err := s.storage.Delete(storedName); err != nil {
		s.logger.Warn("failed to remove stored attachment",
			zap.String("file", storedName), zap.Error(err))
		return err
	}
	return nil
}

// Open returns a handle to a stored attachment for streaming.
func (s *AttachmentService) Open(storedName string) (*os.File, error) {
	file, err := s.storage.Open(storedName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open attachment")
	}
	return file, nil
}
