package handler

import (
	"net/http"
	"time"

	"relaychat/internal/app/chat"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

// PresignUploadInput defines the JSON input structure for generating upload URL.
type PresignUploadInput struct {
	Kind     chat.ContentKind `json:"kind" validate:"required,oneof=image file voice"`
	FileName string           `json:"fileName" validate:"required,max=255"`
	MimeType string           `json:"mimeType" validate:"required,max=255"`
	FileSize int64            `json:"fileSize" validate:"required,gt=0"`
}

// PresignUploadOutput is returned to the client, which then PUTs the file to PresignedURL
// and references FileKey in the attachment descriptor of its send event.
type PresignUploadOutput struct {
	PresignedURL string `json:"presignedUrl"`
	FileKey      string `json:"fileKey"`
	FileName     string `json:"fileName"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// HandlePresignUploadURL creates an HTTP HandlerFunc to generate a time-limited,
// pre-signed URL for an attachment upload.
func HandlePresignUploadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.StorageService == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		var input PresignUploadInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if err := chat.ValidateFileSize(input.FileSize); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		if err := chat.ValidateFileType(input.Kind, input.FileName, input.MimeType); err != nil {
			resp.RespondError(w, r, err)
			return
		}

		now := time.Now()
		fileKey := chat.NewAttachmentKey(input.FileName, now)

		url, err := deps.StorageService.PresignUpload(
			r.Context(),
			fileKey,
			input.MimeType,
			input.FileSize,
			chat.PresignedURLDuration,
		)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, PresignUploadOutput{
			PresignedURL: url,
			FileKey:      fileKey,
			FileName:     input.FileName,
			ExpiresAt:    now.Add(chat.PresignedURLDuration).UnixMilli(),
		})
	}
}

// HandlePresignDownloadURL creates an HTTP HandlerFunc that redirects to a time-limited,
// pre-signed download URL for an attachment key.
func HandlePresignDownloadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.StorageService == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		fileKey := r.URL.Query().Get("k")
		if !chat.IsAttachmentKey(fileKey) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		url, err := deps.StorageService.PresignDownload(r.Context(), fileKey, chat.PresignedURLDuration)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		http.Redirect(w, r, url, http.StatusFound)
	}
}
