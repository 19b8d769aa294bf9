// tips.go — фиксированные списки подсказок по исправлению для каждой
// проверки. К провалившейся проверке прикладывается не более трёх подсказок.
package validate

// checkTips — канонические подсказки по имени проверки.
var checkTips = map[string][]string{
	"file_type": {
		"Загрузите фото в формате JPG или PNG.",
		"Если у вас PDF — экспортируйте изображение в JPG.",
		"Переименуйте файл без спецсимволов.",
	},
	"size": {
		"Сожмите изображение до 1–1.5 МБ.",
		"Используйте режим 'Сохранить для Web' в редакторе.",
		"Сделайте меньшее разрешение при сохранении.",
	},
	"dimensions": {
		"Попросите фотографа сделать снимок нужного размера.",
		"Сделайте новое фото с большим разрешением.",
		"Не кадрируйте слишком сильно.",
	},
	"aspect_ratio": {
		"Отключите авто-кадрирование в телефоне.",
		"Подгоните 35x45 мм без полей.",
		"Используйте шаблон в приложении.",
	},
	"background": {
		"Сфотографируйтесь на светлом/белом фоне.",
		"Избегайте теней, равномерный свет.",
		"Не используйте фильтры.",
	},
	"borders": {
		"Кадрируйте изображение без рамок.",
		"Не используйте печатные фото с полями.",
		"Проверьте равномерность фона.",
	},
}

// maxTips — максимальное количество подсказок на проверку.
const maxTips = 3

// tipsFor возвращает подсказки для провалившейся проверки (до maxTips).
func tipsFor(check string) []string {
	tips := checkTips[check]
	if len(tips) > maxTips {
		tips = tips[:maxTips]
	}
	out := make([]string, len(tips))
	copy(out, tips)
	return out
}
