package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// FieldKind enumerates the closed set of drawable certificate fields.
// The design layout maps each kind to its style; unknown kinds are
// rejected when a design is loaded, not at draw time.
type FieldKind string

const (
	FieldCandidateName     FieldKind = "candidate_name"
	FieldJobRole           FieldKind = "job_role"
	FieldTrainingCenter    FieldKind = "training_center"
	FieldDistrict          FieldKind = "district"
	FieldState             FieldKind = "state"
	FieldAssessmentPartner FieldKind = "assessment_partner"
	FieldEnrollmentNumber  FieldKind = "enrollment_number"
	FieldCertificateNumber FieldKind = "certificate_number"
	FieldDateOfIssuance    FieldKind = "date_of_issuance"
)

// FieldAlign controls horizontal placement of a text field.
type FieldAlign string

const (
	AlignLeft   FieldAlign = "left"
	AlignCenter FieldAlign = "center"
	AlignRight  FieldAlign = "right"
)

// Font names match the PDF base-14 subset the renderer supports.
const (
	FontHelvetica      = "Helvetica"
	FontHelveticaBold  = "HelveticaBold"
	FontTimesRoman     = "TimesRoman"
	FontTimesRomanBold = "TimesRomanBold"
)

// FieldStyle positions and styles one certificate text field.
// Coordinates are in points measured from the top-left of the page.
// Color components are in the 0..1 range.
type FieldStyle struct {
	X        float64    `json:"x"`
	Y        float64    `json:"y"`
	FontSize float64    `json:"fontSize"`
	Font     string     `json:"fontFamily"`
	Color    [3]float64 `json:"color"`
	MaxWidth float64    `json:"maxWidth,omitempty"`
	Align    FieldAlign `json:"align,omitempty"`
}

// QRPlacement positions the verification QR image.
type QRPlacement struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Size float64 `json:"size"`
}

// TemplateDesign is the complete field layout stored as JSONB alongside a
// template. A nil design falls back to DefaultTemplateDesign.
type TemplateDesign struct {
	Fields map[FieldKind]FieldStyle `json:"fields"`
	QR     QRPlacement              `json:"qrCode"`
}

// Validate rejects unknown field kinds and nonsensical styles up front.
func (d *TemplateDesign) Validate() error {
	known := map[FieldKind]struct{}{
		FieldCandidateName:     {},
		FieldJobRole:           {},
		FieldTrainingCenter:    {},
		FieldDistrict:          {},
		FieldState:             {},
		FieldAssessmentPartner: {},
		FieldEnrollmentNumber:  {},
		FieldCertificateNumber: {},
		FieldDateOfIssuance:    {},
	}
	for kind, style := range d.Fields {
		if _, ok := known[kind]; !ok {
			return fmt.Errorf("unknown field kind %q", kind)
		}
		if style.FontSize <= 0 {
			return fmt.Errorf("field %q: font size must be positive", kind)
		}
		switch style.Font {
		case FontHelvetica, FontHelveticaBold, FontTimesRoman, FontTimesRomanBold:
		default:
			return fmt.Errorf("field %q: unsupported font %q", kind, style.Font)
		}
		switch style.Align {
		case "", AlignLeft, AlignCenter, AlignRight:
		default:
			return fmt.Errorf("field %q: unsupported alignment %q", kind, style.Align)
		}
	}
	if d.QR.Size < 0 {
		return fmt.Errorf("qr size must not be negative")
	}
	return nil
}

// Value marshals the design to JSON for persistence.
func (d TemplateDesign) Value() (driver.Value, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal template design: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the design struct.
func (d *TemplateDesign) Scan(value interface{}) error {
	if value == nil {
		*d = TemplateDesign{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for TemplateDesign", value)
	}
	if len(data) == 0 {
		*d = TemplateDesign{}
		return nil
	}
	if err := json.Unmarshal(data, d); err != nil {
		return fmt.Errorf("unmarshal template design: %w", err)
	}
	return nil
}

// Template is a certificate background plus its field layout.
type Template struct {
	ID        string          `db:"id" json:"id"`
	Title     string          `db:"title" json:"title"`
	FilePath  string          `db:"file_path" json:"file_path"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	Design    *TemplateDesign `db:"design" json:"design,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// EffectiveDesign returns the stored design or the built-in default.
func (t *Template) EffectiveDesign() TemplateDesign {
	if t.Design != nil && len(t.Design.Fields) > 0 {
		return *t.Design
	}
	return DefaultTemplateDesign()
}

// DefaultTemplateDesign is the stock layout tuned against the standard
// certificate background. Centered fields ignore X; it is computed from
// measured text width at render time.
func DefaultTemplateDesign() TemplateDesign {
	return TemplateDesign{
		Fields: map[FieldKind]FieldStyle{
			FieldCandidateName: {
				Y: 261, FontSize: 14, Font: FontHelveticaBold,
				Color: [3]float64{0, 0, 0}, MaxWidth: 800, Align: AlignCenter,
			},
			FieldJobRole: {
				Y: 322, FontSize: 16, Font: FontHelveticaBold,
				Color: [3]float64{0, 0, 0}, MaxWidth: 600, Align: AlignCenter,
			},
			FieldTrainingCenter: {
				X: 230, Y: 352, FontSize: 14, Font: FontHelveticaBold,
				Color: [3]float64{0, 0, 0}, MaxWidth: 450,
			},
			FieldDistrict: {
				X: 463, Y: 352, FontSize: 14, Font: FontHelveticaBold,
				Color: [3]float64{0, 0, 0}, MaxWidth: 450,
			},
			FieldState: {
				X: 565, Y: 352, FontSize: 14, Font: FontHelveticaBold,
				Color: [3]float64{0, 0, 0}, MaxWidth: 450,
			},
			FieldAssessmentPartner: {
				X: 330, Y: 390, FontSize: 14, Font: FontHelveticaBold,
				Color: [3]float64{0, 0, 0}, MaxWidth: 450,
			},
			FieldEnrollmentNumber: {
				X: 123, Y: 449, FontSize: 8, Font: FontHelvetica,
				Color: [3]float64{0, 0, 0},
			},
			FieldCertificateNumber: {
				X: 122, Y: 462, FontSize: 8, Font: FontHelvetica,
				Color: [3]float64{0, 0, 0},
			},
			FieldDateOfIssuance: {
				X: 220, Y: 517, FontSize: 8, Font: FontHelvetica,
				Color: [3]float64{0, 0, 0}, MaxWidth: 300,
			},
		},
		QR: QRPlacement{X: 70, Y: 480, Size: 90},
	}
}
