// files.go — HTTP handlers скачивания и листинга загруженных файлов.
// Доступ строго по владельцу: чужой или несуществующий идентификатор
// неотличимы и дают 404.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/visadossier/internal/api/errors"
	"github.com/bigkaa/visadossier/internal/api/middleware"
	"github.com/bigkaa/visadossier/internal/storage/blobstore"
)

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	blobs  *blobstore.Store
	logger *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(blobs *blobstore.Store, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		blobs:  blobs,
		logger: logger.With(slog.String("component", "files_handler")),
	}
}

// GetFile обрабатывает GET /api/v1/files/{id}.
// Отдаёт содержимое файла владельцу. Поддерживает Range requests
// и If-Modified-Since через http.ServeContent.
func (h *FilesHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	subject := middleware.SubjectFromContext(r.Context())

	f, _, err := h.blobs.OpenForOwner(fileID, subject)
	if err != nil {
		h.logger.Error("Ошибка открытия файла",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		apierrors.StorageFailure(w, "Ошибка чтения файла")
		return
	}
	if f == nil {
		apierrors.NotFound(w, fmt.Sprintf("Файл %s не найден", fileID))
		return
	}
	defer f.Close()

	record := h.blobs.Get(fileID)
	if record == nil {
		apierrors.NotFound(w, fmt.Sprintf("Файл %s не найден", fileID))
		return
	}

	w.Header().Set("Content-Type", record.MimeType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("inline; filename=%q", record.OriginalName))

	http.ServeContent(w, r, record.OriginalName, record.CreatedAt, f)
}

// ListFiles обрабатывает GET /api/v1/files.
// Возвращает записи файлов текущего пользователя, новые первыми.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	records := h.blobs.ListByOwner(subject)

	writeJSON(w, http.StatusOK, map[string]any{
		"files": records,
		"total": len(records),
	})
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
