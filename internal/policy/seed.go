// seed.go — встроенный начальный набор стран.
// Используется при первом старте, когда countries.json ещё не существует.
package policy

import "github.com/bigkaa/visadossier/internal/domain/model"

// seedCountries возвращает начальный набор стран с правилами
// валидации фотографии и чек-листами документов (версия 0).
func seedCountries() []*model.Country {
	photoValidator := func(hint model.BackgroundHint) *model.Validator {
		return &model.Validator{
			FileTypes:      []string{"jpg", "jpeg", "png"},
			MaxSizeBytes:   1572864,
			MinPixelWidth:  600,
			MinPixelHeight: 800,
			AspectRatio:    "35:45",
			BackgroundHint: hint,
		}
	}

	return []*model.Country{
		{
			ID:        "de",
			Name:      "Германия",
			Code:      "DE",
			Emoji:     "🇩🇪",
			Validator: photoValidator(model.BackgroundWhite),
			Checklist: []model.ChecklistItem{
				{ItemID: "photo", Label: "Фото 35×45 мм", Required: true, DocType: "photo"},
				{ItemID: "passport", Label: "Скан загранпаспорта", Required: true, DocType: "passport"},
				{ItemID: "insurance", Label: "Медицинская страховка", Required: true, DocType: "insurance"},
				{ItemID: "bank_statement", Label: "Выписка из банка", Required: false, DocType: "finance"},
			},
		},
		{
			ID:        "fr",
			Name:      "Франция",
			Code:      "FR",
			Emoji:     "🇫🇷",
			Validator: photoValidator(model.BackgroundLight),
			Checklist: []model.ChecklistItem{
				{ItemID: "photo", Label: "Фото 35×45 мм", Required: true, DocType: "photo"},
				{ItemID: "passport", Label: "Скан загранпаспорта", Required: true, DocType: "passport"},
				{ItemID: "employment", Label: "Справка с работы", Required: false, DocType: "employment"},
			},
		},
		{
			ID:        "es",
			Name:      "Испания",
			Code:      "ES",
			Emoji:     "🇪🇸",
			Validator: photoValidator(model.BackgroundWhite),
			Checklist: []model.ChecklistItem{
				{ItemID: "photo", Label: "Фото 35×45 мм", Required: true, DocType: "photo"},
				{ItemID: "passport", Label: "Скан загранпаспорта", Required: true, DocType: "passport"},
				{ItemID: "itinerary", Label: "Маршрут поездки", Required: false, DocType: "travel"},
			},
		},
	}
}
