// dossier.go — HTTP handlers сборки и экспорта досье.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/visadossier/internal/api/errors"
	"github.com/bigkaa/visadossier/internal/api/middleware"
	"github.com/bigkaa/visadossier/internal/domain/model"
	"github.com/bigkaa/visadossier/internal/dossier"
	"github.com/bigkaa/visadossier/internal/policy"
)

// DossierHandler — обработчик endpoints досье.
type DossierHandler struct {
	dossiers *dossier.Store
	policies *policy.Store
	logger   *slog.Logger
}

// NewDossierHandler создаёт обработчик endpoints досье.
func NewDossierHandler(dossiers *dossier.Store, policies *policy.Store, logger *slog.Logger) *DossierHandler {
	return &DossierHandler{
		dossiers: dossiers,
		policies: policies,
		logger:   logger.With(slog.String("component", "dossier_handler")),
	}
}

// createDossierRequest — тело запроса создания досье.
type createDossierRequest struct {
	CountryID string                `json:"countryId"`
	Checklist []model.ChecklistItem `json:"checklist"`
}

// CreateDossier обрабатывает POST /api/v1/users/{id}/dossier.
// Сохраняет снапшот чек-листа как досье. Пользователь может создавать
// досье только для себя.
func (h *DossierHandler) CreateDossier(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	subject := middleware.SubjectFromContext(r.Context())

	if userID != subject {
		apierrors.Forbidden(w, "Досье можно создавать только для себя")
		return
	}

	var req createDossierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.InvalidRequest(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	if req.CountryID == "" {
		apierrors.InvalidRequest(w, "Поле countryId обязательно")
		return
	}

	country, err := h.policies.Get(req.CountryID)
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Страна %s не найдена", req.CountryID))
			return
		}
		apierrors.InternalError(w, "Ошибка чтения политики")
		return
	}

	// Без чек-листа в запросе снапшотится текущий чек-лист страны
	// (без привязанных файлов).
	checklist := req.Checklist
	if len(checklist) == 0 {
		checklist = country.Checklist
	}

	record, err := h.dossiers.Create(subject, req.CountryID, checklist)
	if err != nil {
		h.logger.Error("Ошибка создания досье",
			slog.String("owner", subject),
			slog.String("country", req.CountryID),
			slog.String("error", err.Error()),
		)
		apierrors.StorageFailure(w, "Ошибка сохранения досье")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id": record.ID,
		"ok": true,
	})
}

// ExportDossier обрабатывает GET /api/v1/dossier/{id}/export.
// Стримит ZIP-архив досье владельцу. Проверки доступа выполняются
// до записи первого байта тела.
func (h *DossierHandler) ExportDossier(w http.ResponseWriter, r *http.Request) {
	dossierID := chi.URLParam(r, "id")
	subject := middleware.SubjectFromContext(r.Context())

	record, err := h.dossiers.Get(dossierID, subject)
	if err != nil {
		h.writeExportError(w, dossierID, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", dossier.ExportFilename(record.CountryID, time.Now())))

	if err := h.dossiers.Export(w, dossierID, subject); err != nil {
		// Ошибки политики foreign-blob и повторной проверки доступа
		// возникают до первого байта, их ещё можно отдать как JSON.
		if errors.Is(err, dossier.ErrForeignBlob) || errors.Is(err, dossier.ErrNotFound) || errors.Is(err, dossier.ErrForbidden) {
			w.Header().Del("Content-Disposition")
			h.writeExportError(w, dossierID, err)
			return
		}

		// Поток уже начат: ответ не переписать, остаётся оборвать
		// соединение и оставить след в логе.
		middleware.DossierExportsTotal.WithLabelValues("error").Inc()
		h.logger.Error("Экспорт досье оборван",
			slog.String("dossier_id", dossierID),
			slog.String("error", err.Error()),
		)
		return
	}

	middleware.DossierExportsTotal.WithLabelValues("success").Inc()
}

// writeExportError транслирует ошибки экспорта в коды API.
func (h *DossierHandler) writeExportError(w http.ResponseWriter, dossierID string, err error) {
	switch {
	case errors.Is(err, dossier.ErrNotFound):
		apierrors.NotFound(w, fmt.Sprintf("Досье %s не найдено", dossierID))
	case errors.Is(err, dossier.ErrForbidden):
		apierrors.Forbidden(w, "Досье принадлежит другому пользователю")
	case errors.Is(err, dossier.ErrForeignBlob):
		apierrors.Forbidden(w, "Чек-лист досье ссылается на чужой файл")
	default:
		h.logger.Error("Ошибка экспорта досье",
			slog.String("dossier_id", dossierID),
			slog.String("error", err.Error()),
		)
		apierrors.StorageFailure(w, "Ошибка экспорта досье")
	}
}
