// upload.go — HTTP handler загрузки документов.
// Модель accept-then-report: файл сохраняется всегда, результаты
// проверок соответствия возвращаются в ответе рядом с идентификатором.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/visadossier/internal/api/errors"
	"github.com/bigkaa/visadossier/internal/api/middleware"
	"github.com/bigkaa/visadossier/internal/domain/model"
	"github.com/bigkaa/visadossier/internal/policy"
	"github.com/bigkaa/visadossier/internal/storage/blobstore"
	"github.com/bigkaa/visadossier/internal/validate"
)

// UploadHandler — обработчик POST /api/v1/upload.
type UploadHandler struct {
	blobs         *blobstore.Store
	policies      *policy.Store
	maxUploadSize int64
	publicBaseURL string
	logger        *slog.Logger
}

// NewUploadHandler создаёт обработчик загрузки.
func NewUploadHandler(blobs *blobstore.Store, policies *policy.Store, maxUploadSize int64, publicBaseURL string, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		blobs:         blobs,
		policies:      policies,
		maxUploadSize: maxUploadSize,
		publicBaseURL: publicBaseURL,
		logger:        logger.With(slog.String("component", "upload_handler")),
	}
}

// uploadResponse — тело ответа успешной загрузки.
type uploadResponse struct {
	ID      string                       `json:"id"`
	FileURL string                       `json:"fileUrl"`
	Checks  map[string]model.CheckResult `json:"checks"`
	OK      bool                         `json:"ok"`
}

// Upload обрабатывает POST /api/v1/upload.
// Multipart form: file, countryId, docType (обязательны), checklistItemId.
// Отклоняются только некорректные запросы: превышение лимита размера (413),
// отсутствие обязательных полей (400), неизвестная страна (404).
// Провал проверок соответствия загрузку не отменяет.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromContext(r.Context())

	// Жёсткий транспортный лимит: MaxBytesReader обрывает чтение тела
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		if isMaxBytesError(err) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Файл превышает лимит %d байт", h.maxUploadSize))
			return
		}
		apierrors.InvalidRequest(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.InvalidRequest(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadSize {
		apierrors.FileTooLarge(w, fmt.Sprintf("Файл превышает лимит %d байт", h.maxUploadSize))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		if isMaxBytesError(err) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Файл превышает лимит %d байт", h.maxUploadSize))
			return
		}
		apierrors.InternalError(w, "Ошибка чтения загружаемого файла")
		return
	}

	countryID := r.FormValue("countryId")
	docType := r.FormValue("docType")
	checklistItemID := r.FormValue("checklistItemId")
	if countryID == "" || docType == "" {
		apierrors.InvalidRequest(w, "Поля countryId и docType обязательны")
		return
	}

	// Правила валидации — текущая политика страны; загрузка в адрес
	// неизвестной страны отклоняется до сохранения байтов.
	country, err := h.policies.Get(countryID)
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Страна %s не найдена", countryID))
			return
		}
		h.logger.Error("Ошибка чтения политики",
			slog.String("country", countryID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка чтения политики")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	result := validate.Evaluate(data, header.Filename, country.Validator)
	for name, check := range result.Checks {
		outcome := "fail"
		if check.OK {
			outcome = "pass"
		}
		middleware.ValidationChecksTotal.WithLabelValues(name, outcome).Inc()
	}

	record, err := h.blobs.Put(data, blobstore.PutParams{
		OwnerID:         actor.ID,
		CountryID:       countryID,
		DocType:         docType,
		ChecklistItemID: checklistItemID,
		OriginalName:    header.Filename,
		MimeType:        contentType,
	})
	if err != nil {
		h.logger.Error("Ошибка сохранения файла",
			slog.String("owner", actor.ID),
			slog.String("error", err.Error()),
		)
		apierrors.StorageFailure(w, "Ошибка сохранения файла")
		return
	}

	middleware.BlobsTotal.Set(float64(h.blobs.Count()))

	h.logger.Info("Файл загружен",
		slog.String("file_id", record.ID),
		slog.String("owner", actor.ID),
		slog.String("country", countryID),
		slog.String("doc_type", docType),
		slog.Int64("size", record.SizeBytes),
		slog.Bool("checks_ok", result.OK),
	)

	writeJSON(w, http.StatusCreated, uploadResponse{
		ID:      record.ID,
		FileURL: h.publicBaseURL + "/api/v1/files/" + record.ID,
		Checks:  result.Checks,
		OK:      result.OK,
	})
}

// isMaxBytesError распознаёт обрыв чтения тела по лимиту MaxBytesReader.
func isMaxBytesError(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
