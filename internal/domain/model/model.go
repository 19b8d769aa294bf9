// Пакет model — доменные модели сервиса Visa Dossier.
// Структуры соответствуют форматам JSON-документов на диске:
// countries.json, rules_history/<country>.json, uploads_index.json,
// dossiers/<id>.json.
package model

import (
	"encoding/json"
	"time"
)

// BackgroundHint — подсказка о требуемом фоне фотографии.
type BackgroundHint string

const (
	// BackgroundWhite — белый фон
	BackgroundWhite BackgroundHint = "white"
	// BackgroundLight — светлый фон
	BackgroundLight BackgroundHint = "light"
	// BackgroundNeutral — нейтральный фон
	BackgroundNeutral BackgroundHint = "neutral"
	// BackgroundOther — требования к фону не проверяются
	BackgroundOther BackgroundHint = "other"
)

// RequiresLight сообщает, требует ли подсказка светлый фон.
func (h BackgroundHint) RequiresLight() bool {
	switch h {
	case BackgroundWhite, BackgroundLight, BackgroundNeutral:
		return true
	}
	return false
}

// Validator — правила проверки фотографии для одной страны.
//
// Известные поля типизированы; любые дополнительные ключи, присланные
// администратором, сохраняются в Extra и выживают при сериализации
// (round-trip через кастомные MarshalJSON/UnmarshalJSON).
type Validator struct {
	// FileTypes — допустимые расширения файла (без точки, нижний регистр)
	FileTypes []string
	// MaxSizeBytes — максимальный размер файла в байтах
	MaxSizeBytes int64
	// MinPixelWidth — минимальная ширина изображения в пикселях
	MinPixelWidth int
	// MinPixelHeight — минимальная высота изображения в пикселях
	MinPixelHeight int
	// AspectRatio — требуемое соотношение сторон в формате "W:H"
	AspectRatio string
	// BackgroundHint — подсказка о требуемом фоне
	BackgroundHint BackgroundHint
	// TrustOnDecodeFailure — поведение пиксельных проверок при
	// невозможности декодировать изображение: true (по умолчанию) —
	// background/borders засчитываются как пройденные (fail-open),
	// false — засчитываются как непройденные.
	TrustOnDecodeFailure *bool
	// Extra — нетипизированные дополнительные правила
	Extra map[string]json.RawMessage
}

// validatorKnown — типизированная часть Validator для (де)сериализации.
type validatorKnown struct {
	FileTypes            []string       `json:"file_types,omitempty"`
	MaxSizeBytes         int64          `json:"max_size_bytes,omitempty"`
	MinPixelWidth        int            `json:"min_pixel_width,omitempty"`
	MinPixelHeight       int            `json:"min_pixel_height,omitempty"`
	AspectRatio          string         `json:"aspect_ratio,omitempty"`
	BackgroundHint       BackgroundHint `json:"background_hint,omitempty"`
	TrustOnDecodeFailure *bool          `json:"trust_on_decode_failure,omitempty"`
}

// validatorKnownKeys — ключи, которые не попадают в Extra.
var validatorKnownKeys = map[string]bool{
	"file_types":              true,
	"max_size_bytes":          true,
	"min_pixel_width":         true,
	"min_pixel_height":        true,
	"aspect_ratio":            true,
	"background_hint":         true,
	"trust_on_decode_failure": true,
}

// UnmarshalJSON разбирает известные поля и складывает остальные в Extra.
func (v *Validator) UnmarshalJSON(data []byte) error {
	var known validatorKnown
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	v.FileTypes = known.FileTypes
	v.MaxSizeBytes = known.MaxSizeBytes
	v.MinPixelWidth = known.MinPixelWidth
	v.MinPixelHeight = known.MinPixelHeight
	v.AspectRatio = known.AspectRatio
	v.BackgroundHint = known.BackgroundHint
	v.TrustOnDecodeFailure = known.TrustOnDecodeFailure

	v.Extra = nil
	for k, val := range raw {
		if validatorKnownKeys[k] {
			continue
		}
		if v.Extra == nil {
			v.Extra = make(map[string]json.RawMessage)
		}
		v.Extra[k] = val
	}
	return nil
}

// MarshalJSON сериализует известные поля вместе с Extra.
func (v Validator) MarshalJSON() ([]byte, error) {
	known := validatorKnown{
		FileTypes:            v.FileTypes,
		MaxSizeBytes:         v.MaxSizeBytes,
		MinPixelWidth:        v.MinPixelWidth,
		MinPixelHeight:       v.MinPixelHeight,
		AspectRatio:          v.AspectRatio,
		BackgroundHint:       v.BackgroundHint,
		TrustOnDecodeFailure: v.TrustOnDecodeFailure,
	}

	data, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(v.Extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, val := range v.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = val
		}
	}
	return json.Marshal(merged)
}

// Clone возвращает глубокую копию Validator.
func (v *Validator) Clone() *Validator {
	if v == nil {
		return nil
	}
	copied := *v
	if v.FileTypes != nil {
		copied.FileTypes = append([]string(nil), v.FileTypes...)
	}
	if v.TrustOnDecodeFailure != nil {
		trust := *v.TrustOnDecodeFailure
		copied.TrustOnDecodeFailure = &trust
	}
	if v.Extra != nil {
		copied.Extra = make(map[string]json.RawMessage, len(v.Extra))
		for k, val := range v.Extra {
			copied.Extra[k] = append(json.RawMessage(nil), val...)
		}
	}
	return &copied
}

// ChecklistItem — один пункт чек-листа документов страны.
// BlobID заполняется в снапшоте досье, в шаблоне страны он пуст.
type ChecklistItem struct {
	// ItemID — идентификатор пункта (например, "photo")
	ItemID string `json:"id"`
	// Label — отображаемое название пункта
	Label string `json:"label"`
	// Required — обязательность пункта
	Required bool `json:"required"`
	// DocType — тип документа (например, "photo", "passport")
	DocType string `json:"docType"`
	// BlobID — идентификатор загруженного файла (опционально)
	BlobID string `json:"fileId,omitempty"`
}

// Country — страна с правилами валидации и чек-листом.
// Соответствует элементу массива countries в countries.json.
type Country struct {
	// ID — идентификатор страны (например, "de")
	ID string `json:"id"`
	// Name — название страны
	Name string `json:"name"`
	// Code — ISO-код страны
	Code string `json:"code"`
	// Emoji — флаг страны
	Emoji string `json:"emoji,omitempty"`
	// Validator — правила проверки фотографии
	Validator *Validator `json:"validator,omitempty"`
	// Checklist — чек-лист документов
	Checklist []ChecklistItem `json:"checklist,omitempty"`
	// Version — версия правил, строго растёт на 1 при каждом обновлении
	Version int `json:"version"`
	// UpdatedAt — время последнего обновления правил (UTC)
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
	// UpdatedBy — идентификатор администратора, выполнившего обновление
	UpdatedBy string `json:"updatedBy,omitempty"`
}

// Clone возвращает глубокую копию Country.
func (c *Country) Clone() *Country {
	copied := *c
	copied.Validator = c.Validator.Clone()
	if c.Checklist != nil {
		copied.Checklist = append([]ChecklistItem(nil), c.Checklist...)
	}
	return &copied
}

// PolicyHistoryEntry — неизменяемый снапшот правил страны.
// Добавляется в rules_history/<country>.json при каждом обновлении,
// никогда не изменяется и не удаляется.
type PolicyHistoryEntry struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Validator *Validator      `json:"validator,omitempty"`
	Checklist []ChecklistItem `json:"checklist,omitempty"`
	UpdatedBy string          `json:"updatedBy"`
}

// BlobRecord — метаданные одного загруженного файла.
// Соответствует элементу files в uploads_index.json.
// ID и OwnerID неизменяемы; повторная загрузка создаёт новую запись.
type BlobRecord struct {
	// ID — уникальный непрозрачный идентификатор (UUID v4)
	ID string `json:"id"`
	// OwnerID — идентификатор владельца (sub из JWT), фиксируется при создании
	OwnerID string `json:"userId"`
	// CountryID — страна, для которой загружен документ
	CountryID string `json:"countryId"`
	// DocType — тип документа
	DocType string `json:"docType"`
	// ChecklistItemID — пункт чек-листа, к которому относится файл
	ChecklistItemID string `json:"checklistItemId,omitempty"`
	// OriginalName — оригинальное имя файла при загрузке
	OriginalName string `json:"originalName"`
	// MimeType — заявленный MIME-тип
	MimeType string `json:"mimeType"`
	// SizeBytes — размер файла в байтах
	SizeBytes int64 `json:"sizeBytes"`
	// StorageLocator — путь файла относительно директории загрузок
	StorageLocator string `json:"path"`
	// CreatedAt — время создания записи (UTC)
	CreatedAt time.Time `json:"createdAt"`
}

// DossierRecord — снапшот прогресса чек-листа пользователя по одной стране.
// Читается и экспортируется только владельцем.
type DossierRecord struct {
	// ID — уникальный идентификатор досье (UUID v4)
	ID string `json:"id"`
	// OwnerID — идентификатор владельца
	OwnerID string `json:"userId"`
	// CountryID — страна досье
	CountryID string `json:"countryId"`
	// Checklist — упорядоченный снапшот чек-листа со ссылками на файлы
	Checklist []ChecklistItem `json:"checklist"`
	// CreatedAt — время создания (UTC)
	CreatedAt time.Time `json:"createdAt"`
}

// CheckResult — результат одной проверки изображения.
type CheckResult struct {
	// OK — проверка пройдена
	OK bool `json:"ok"`
	// Message — человекочитаемое описание результата
	Message string `json:"message"`
	// Tips — подсказки по исправлению (до 3, только при провале)
	Tips []string `json:"tips"`
}

// Имена шести проверок изображения.
const (
	CheckFileType    = "file_type"
	CheckSize        = "size"
	CheckDimensions  = "dimensions"
	CheckAspectRatio = "aspect_ratio"
	CheckBackground  = "background"
	CheckBorders     = "borders"
)

// CheckNames — все шесть проверок в порядке выполнения.
var CheckNames = []string{
	CheckFileType,
	CheckSize,
	CheckDimensions,
	CheckAspectRatio,
	CheckBackground,
	CheckBorders,
}

// ValidationResult — полный отчёт о проверке изображения.
// Формируется заново на каждую загрузку и не персистится отдельно
// (возвращается только в ответе на upload).
type ValidationResult struct {
	// Checks — результат по каждой из шести проверок
	Checks map[string]CheckResult `json:"checks"`
	// OK — логическое И всех проверок
	OK bool `json:"ok"`
}
