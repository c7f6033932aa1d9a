package render

import (
	"github.com/jung-kurt/gofpdf"

	"github.com/noah-isme/certify-api/internal/models"
)

// resolveFont maps a layout font name onto a gofpdf core font family and
// style string. ok is false for names outside the supported base-14 subset.
func resolveFont(name string) (family, style string, ok bool) {
	switch name {
	case models.FontHelvetica:
		return "Helvetica", "", true
	case models.FontHelveticaBold:
		return "Helvetica", "B", true
	case models.FontTimesRoman:
		return "Times", "", true
	case models.FontTimesRomanBold:
		return "Times", "B", true
	default:
		return "", "", false
	}
}

// measureText returns the width of text in points. When the font resolves,
// the real font metrics are used; otherwise an average-character-width
// approximation is taken. The two methods are not interchangeable, so the
// caller must use the same path for every measurement of a given field.
func measureText(pdf *gofpdf.Fpdf, text, fontName string, size float64) float64 {
	family, style, ok := resolveFont(fontName)
	if ok && pdf != nil {
		pdf.SetFont(family, style, size)
		return pdf.GetStringWidth(text)
	}
	return approximateTextWidth(text, fontName, size)
}

// approximateTextWidth estimates width from per-font average glyph widths.
// Only used when real metrics are unavailable.
func approximateTextWidth(text, fontName string, size float64) float64 {
	var avgCharWidth float64
	switch fontName {
	case models.FontHelveticaBold, models.FontTimesRomanBold:
		avgCharWidth = size * 0.65
	case models.FontTimesRoman:
		avgCharWidth = size * 0.58
	default:
		avgCharWidth = size * 0.60
	}
	return float64(len([]rune(text))) * avgCharWidth
}

// alignedX computes the drawing x for a field given its alignment. Centered
// fields center within the page width; right-aligned fields end at the
// configured x.
func alignedX(style models.FieldStyle, textWidth, pageWidth float64) float64 {
	switch style.Align {
	case models.AlignCenter:
		return (pageWidth - textWidth) / 2
	case models.AlignRight:
		return style.X - textWidth
	default:
		return style.X
	}
}
