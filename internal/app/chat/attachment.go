package chat

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"relaychat/internal/pkg/errs"
)

const (
	// MaxAttachmentSizeMB is the maximum allowed file size in megabytes.
	MaxAttachmentSizeMB = 10

	// MaxAttachmentSize is the maximum allowed file size in bytes.
	MaxAttachmentSize = MaxAttachmentSizeMB * 1024 * 1024

	// PresignedURLDuration is the fixed duration for which an upload or download URL is valid.
	PresignedURLDuration = 5 * time.Minute

	// AttachmentKeyPrefix is the prefix of every object key issued by the presign endpoint.
	AttachmentKeyPrefix = "attachments/"
)

// extToMIME maps file extensions to their MIME types, grouped by the content kind that may carry them.
var extToMIME = map[ContentKind]map[string]string{
	KindImage: {
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".webp": "image/webp",
		".gif":  "image/gif",
	},
	KindVoice: {
		".ogg":  "audio/ogg",
		".opus": "audio/ogg",
		".mp3":  "audio/mpeg",
		".m4a":  "audio/mp4",
		".webm": "audio/webm",
		".wav":  "audio/wav",
	},
	KindFile: {
		".pdf":  "application/pdf",
		".txt":  "text/plain",
		".csv":  "text/csv",
		".zip":  "application/zip",
		".json": "application/json",
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	},
}

func init() {
	// Any image or audio file may also be sent as a generic file.
	for _, kind := range []ContentKind{KindImage, KindVoice} {
		for ext, mime := range extToMIME[kind] {
			extToMIME[KindFile][ext] = mime
		}
	}
}

// Attachment describes an uploaded object referenced by a message.
type Attachment struct {
	Key      string `json:"fileKey" validate:"required,max=512"`
	Name     string `json:"fileName" validate:"required,max=255"`
	MimeType string `json:"mimeType" validate:"required,max=255"`
	Size     int64  `json:"fileSize" validate:"required,gt=0"`
}

// Validate checks the descriptor against the rules for the given content kind.
func (a *Attachment) Validate(kind ContentKind) *errs.CustomError {
	if !IsAttachmentKey(a.Key) {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}

	if err := ValidateFileSize(a.Size); err != nil {
		return err
	}

	return ValidateFileType(kind, a.Name, a.MimeType)
}

// ValidateFileSize checks if the provided file size is within acceptable limits.
func ValidateFileSize(fileSize int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if fileSize > MaxAttachmentSize {
		return errs.NewError(errs.ErrFileSizeTooLarge)
	}

	return nil
}

// ValidateFileType checks that the file extension is allowed for the kind and matches the MIME type.
func ValidateFileType(kind ContentKind, fileName string, mimeType string) *errs.CustomError {
	allowed, ok := extToMIME[kind]
	if !ok {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if len(ext) < 2 {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}

	expectedMIME, ok := allowed[ext]
	if !ok {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}

	if expectedMIME != strings.ToLower(mimeType) {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}

	return nil
}

// AttachmentExt returns the normalized extension of a file name.
func AttachmentExt(fileName string) string {
	return strings.ToLower(filepath.Ext(fileName))
}

// NewAttachmentKey returns a fresh object key under AttachmentKeyPrefix for a file with the given name.
func NewAttachmentKey(fileName string, now time.Time) string {
	return AttachmentKeyPrefix + now.UTC().Format("2006/01/02/") + uuid.NewString() + AttachmentExt(fileName)
}

// IsAttachmentKey reports whether key could have been issued by NewAttachmentKey.
func IsAttachmentKey(key string) bool {
	return strings.HasPrefix(key, AttachmentKeyPrefix) && !strings.Contains(key, "..") && len(key) <= 512
}
