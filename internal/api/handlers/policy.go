// policy.go — HTTP handlers политик валидации по странам.
// Чтение политики, изменение правил (admin), история версий (admin).
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/visadossier/internal/api/errors"
	"github.com/bigkaa/visadossier/internal/api/middleware"
	"github.com/bigkaa/visadossier/internal/policy"
)

// PolicyHandler — обработчик endpoints политик.
type PolicyHandler struct {
	store  *policy.Store
	logger *slog.Logger
}

// NewPolicyHandler создаёт обработчик endpoints политик.
func NewPolicyHandler(store *policy.Store, logger *slog.Logger) *PolicyHandler {
	return &PolicyHandler{
		store:  store,
		logger: logger.With(slog.String("component", "policy_handler")),
	}
}

// GetPolicy обрабатывает GET /api/v1/countries/{id}/policy.
// Возвращает действующую политику страны: валидатор, чек-лист, версию.
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	countryID := chi.URLParam(r, "id")

	country, err := h.store.Get(countryID)
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Страна %s не найдена", countryID))
			return
		}
		apierrors.InternalError(w, "Ошибка чтения политики")
		return
	}

	writeJSON(w, http.StatusOK, country)
}

// UpdateRules обрабатывает POST /api/v1/countries/{id}/rules.
// Частичное обновление: validator и/или checklist; отсутствующая часть
// сохраняется. Доступно только роли admin (проверяется и в middleware,
// и в хранилище).
func (h *PolicyHandler) UpdateRules(w http.ResponseWriter, r *http.Request) {
	countryID := chi.URLParam(r, "id")
	actor := middleware.ActorFromContext(r.Context())

	var req policy.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.InvalidRequest(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	version, err := h.store.Update(countryID, req, actor)
	if err != nil {
		switch {
		case errors.Is(err, policy.ErrNotFound):
			apierrors.NotFound(w, fmt.Sprintf("Страна %s не найдена", countryID))
		case errors.Is(err, policy.ErrForbidden):
			apierrors.Forbidden(w, "Изменение правил доступно только администратору")
		case errors.Is(err, policy.ErrEmptyUpdate):
			apierrors.InvalidRequest(w, "Необходимо указать хотя бы одно поле для обновления (validator или checklist)")
		default:
			h.logger.Error("Ошибка обновления политики",
				slog.String("country", countryID),
				slog.String("error", err.Error()),
			)
			apierrors.StorageFailure(w, "Ошибка сохранения политики")
		}
		return
	}

	middleware.PolicyUpdatesTotal.WithLabelValues(countryID).Inc()

	h.logger.Info("Правила страны обновлены через API",
		slog.String("country", countryID),
		slog.Int("version", version),
		slog.String("updated_by", actor.Email),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": version,
	})
}

// GetRulesHistory обрабатывает GET /api/v1/countries/{id}/rules/history.
// Возвращает версии политики от старых к новым. Доступно только admin.
func (h *PolicyHandler) GetRulesHistory(w http.ResponseWriter, r *http.Request) {
	countryID := chi.URLParam(r, "id")

	history, err := h.store.ListHistory(countryID)
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Страна %s не найдена", countryID))
			return
		}
		h.logger.Error("Ошибка чтения истории правил",
			slog.String("country", countryID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка чтения истории правил")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"countryId": countryID,
		"history":   history,
	})
}
