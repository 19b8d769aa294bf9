// Пакет validate — движок проверки соответствия фотографии правилам страны.
//
// Evaluate выполняет шесть независимых проверок (file_type, size,
// dimensions, aspect_ratio, background, borders) без short-circuit:
// вызывающий код всегда получает полный отчёт. Движок никогда не
// возвращает ошибку — при невозможности декодировать изображение
// пиксельные проверки деградируют до документированных значений
// (fail-open управляется полем trust_on_decode_failure политики).
package validate

import (
	"bytes"
	"fmt"
	"image"
	"strconv"
	"strings"

	// Регистрация декодеров JPEG и PNG в image.Decode.
	_ "image/jpeg"
	_ "image/png"

	"github.com/bigkaa/visadossier/internal/domain/model"
)

// Значения правил по умолчанию, применяемые когда политика
// не задаёт соответствующее поле.
const (
	// DefaultMaxSizeBytes — лимит размера файла (~1.5 МиБ)
	DefaultMaxSizeBytes int64 = 1572864
	// DefaultMinPixelWidth — минимальная ширина
	DefaultMinPixelWidth = 600
	// DefaultMinPixelHeight — минимальная высота
	DefaultMinPixelHeight = 800
	// DefaultAspectRatio — соотношение сторон фото 35×45 мм
	DefaultAspectRatio = "35:45"

	// aspectTolerance — относительный допуск соотношения сторон (2%)
	aspectTolerance = 0.02
	// backgroundThreshold — минимальная средняя светлота фона
	backgroundThreshold = 0.70
	// borderThreshold — минимальная светлота краёв (отдельный, более
	// низкий порог: тёмная рамка заметна раньше тёмного фона)
	borderThreshold = 0.60
	// edgeStripPx — толщина полос выборки пикселей вдоль каждого края
	edgeStripPx = 5
)

// DefaultFileTypes — допустимые расширения по умолчанию.
var DefaultFileTypes = []string{"jpg", "jpeg", "png"}

// Evaluate проверяет изображение против правил политики и возвращает
// полный отчёт из шести проверок. rules может быть nil — тогда все
// поля берутся по умолчанию.
func Evaluate(imageBytes []byte, originalFilename string, rules *model.Validator) *model.ValidationResult {
	if rules == nil {
		rules = &model.Validator{}
	}

	checks := make(map[string]model.CheckResult, len(model.CheckNames))

	// Декодируем изображение один раз; все пиксельные проверки
	// используют общий результат. Ошибка декодирования не прерывает
	// формирование отчёта.
	img, _, decodeErr := image.Decode(bytes.NewReader(imageBytes))
	width, height := 0, 0
	if decodeErr == nil {
		bounds := img.Bounds()
		width = bounds.Dx()
		height = bounds.Dy()
	}

	checks[model.CheckFileType] = checkFileType(originalFilename, rules)
	checks[model.CheckSize] = checkSize(int64(len(imageBytes)), rules)
	checks[model.CheckDimensions] = checkDimensions(width, height, rules)
	checks[model.CheckAspectRatio] = checkAspectRatio(width, height, rules)

	// Светлота краёв считается один раз и используется обеими
	// пиксельными проверками (background и borders).
	var lightness float64
	lightnessKnown := false
	if decodeErr == nil {
		lightness = edgeLightness(img)
		lightnessKnown = true
	}

	trust := true
	if rules.TrustOnDecodeFailure != nil {
		trust = *rules.TrustOnDecodeFailure
	}

	checks[model.CheckBackground] = checkBackground(lightness, lightnessKnown, trust, rules)
	checks[model.CheckBorders] = checkBorders(lightness, lightnessKnown, trust)

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
			break
		}
	}

	return &model.ValidationResult{Checks: checks, OK: allOK}
}

// pass формирует пройденную проверку с пустым списком подсказок.
func pass(message string) model.CheckResult {
	return model.CheckResult{OK: true, Message: message, Tips: []string{}}
}

// fail формирует провалившуюся проверку с каноническими подсказками.
func fail(check, message string) model.CheckResult {
	return model.CheckResult{OK: false, Message: message, Tips: tipsFor(check)}
}

// checkFileType — расширение файла (нижний регистр, последний сегмент
// после точки) должно входить в список допустимых.
func checkFileType(originalFilename string, rules *model.Validator) model.CheckResult {
	allowed := rules.FileTypes
	if len(allowed) == 0 {
		allowed = DefaultFileTypes
	}

	ext := ""
	if idx := strings.LastIndex(originalFilename, "."); idx != -1 {
		ext = strings.ToLower(originalFilename[idx+1:])
	} else {
		ext = strings.ToLower(originalFilename)
	}

	for _, t := range allowed {
		if strings.ToLower(t) == ext {
			return pass("Формат файла допустим")
		}
	}
	return fail(model.CheckFileType,
		fmt.Sprintf("Недопустимый формат файла: .%s. Разрешены: %s", ext, strings.Join(allowed, ", ")))
}

// checkSize — размер в байтах не больше лимита политики.
func checkSize(sizeBytes int64, rules *model.Validator) model.CheckResult {
	maxSize := rules.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = DefaultMaxSizeBytes
	}

	if sizeBytes <= maxSize {
		return pass("Размер файла в норме")
	}
	return fail(model.CheckSize,
		fmt.Sprintf("Файл слишком большой: %.2f МБ (лимит %.2f МБ)",
			float64(sizeBytes)/1024/1024, float64(maxSize)/1024/1024))
}

// checkDimensions — обе стороны не меньше минимума политики.
// При ошибке декодирования ширина и высота равны 0, проверка проваливается.
func checkDimensions(width, height int, rules *model.Validator) model.CheckResult {
	minW := rules.MinPixelWidth
	if minW <= 0 {
		minW = DefaultMinPixelWidth
	}
	minH := rules.MinPixelHeight
	if minH <= 0 {
		minH = DefaultMinPixelHeight
	}

	if width >= minW && height >= minH {
		return pass(fmt.Sprintf("Разрешение ок: %dx%d", width, height))
	}
	return fail(model.CheckDimensions,
		fmt.Sprintf("Разрешение мало: %dx%d, минимум %dx%d", width, height, minW, minH))
}

// checkAspectRatio — фактическое соотношение width/max(1,height) должно
// отклоняться от целевого W/H не более чем на 2% относительно цели.
// Непарсибельная строка соотношения отключает проверку (pass).
func checkAspectRatio(width, height int, rules *model.Validator) model.CheckResult {
	ratioStr := rules.AspectRatio
	if ratioStr == "" {
		ratioStr = DefaultAspectRatio
	}

	target, ok := parseRatio(ratioStr)
	if !ok {
		return pass("Соотношение сторон ок")
	}

	real := float64(width) / float64(max(1, height))
	if abs(real-target) <= aspectTolerance*target {
		return pass(fmt.Sprintf("Соотношение ок (%.3f)", real))
	}
	return fail(model.CheckAspectRatio,
		fmt.Sprintf("Неверное соотношение: %.3f (нужно %s)", real, ratioStr))
}

// checkBackground — средняя светлота краёв не ниже порога, если политика
// требует светлый фон (white/light/neutral); для остальных подсказок
// проверка всегда пройдена. При недоступной светлоте результат
// определяется fail-open политикой (trust).
func checkBackground(lightness float64, known, trust bool, rules *model.Validator) model.CheckResult {
	hint := rules.BackgroundHint
	if hint == "" {
		hint = model.BackgroundWhite
	}

	if !hint.RequiresLight() {
		return pass("Фон светлый и ровный")
	}

	if !known {
		if trust {
			return pass("Фон светлый и ровный")
		}
		return fail(model.CheckBackground, "Не удалось проанализировать фон изображения")
	}

	if lightness >= backgroundThreshold {
		return pass("Фон достаточно светлый")
	}
	return fail(model.CheckBackground,
		fmt.Sprintf("Фон недостаточно светлый (%d%%)", int(lightness*100+0.5)))
}

// checkBorders — та же светлота краёв против более низкого порога:
// тёмные значения указывают на рамки или поля по краям снимка.
func checkBorders(lightness float64, known, trust bool) model.CheckResult {
	if !known {
		if trust {
			return pass("Нет тёмных рамок по краям")
		}
		return fail(model.CheckBorders, "Не удалось проанализировать края изображения")
	}

	if lightness >= borderThreshold {
		return pass("Края без рамок")
	}
	return fail(model.CheckBorders, "Видны тёмные рамки по краям — обрежьте изображение без полей")
}

// edgeLightness вычисляет среднюю перцептивную светлоту четырёх полос
// шириной edgeStripPx вдоль краёв изображения, нормированную в [0,1].
// Светлота пикселя: 0.2126R + 0.7152G + 0.0722B.
// Средние четырёх полос усредняются между собой.
func edgeLightness(img image.Image) float64 {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	strip := edgeStripPx

	left := stripLightness(img, bounds.Min.X, bounds.Min.Y, min(strip, w), h)
	right := stripLightness(img, bounds.Min.X+max(0, w-strip), bounds.Min.Y, min(strip, w), h)
	top := stripLightness(img, bounds.Min.X, bounds.Min.Y, w, min(strip, h))
	bottom := stripLightness(img, bounds.Min.X, bounds.Min.Y+max(0, h-strip), w, min(strip, h))

	return (left + right + top + bottom) / 4 / 255
}

// stripLightness возвращает среднюю светлоту прямоугольной области
// в диапазоне [0,255].
func stripLightness(img image.Image, x0, y0, w, h int) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}

	var sum float64
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// RGBA возвращает 16-битные каналы, приводим к 8-битным
			sum += 0.2126*float64(r>>8) + 0.7152*float64(g>>8) + 0.0722*float64(b>>8)
		}
	}
	return sum / float64(w*h)
}

// parseRatio разбирает строку "W:H" в числовое соотношение W/H.
func parseRatio(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, false
	}
	w, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	h, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, false
	}
	return w / h, true
}

// abs — модуль float64 без импорта math.
func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
