package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/noah-isme/certify-api/internal/models"
)

// Artifact is one finished certificate: document bytes, the storage
// filename, and the QR payload embedded in the page.
type Artifact struct {
	Bytes     []byte
	Filename  string
	QRPayload string
}

// QRPayload is the structured verification record serialized into the QR
// code.
type QRPayload struct {
	StudentID         string    `json:"studentId"`
	StudentName       string    `json:"studentName"`
	CertificateNumber string    `json:"certificateNumber"`
	EnrollmentNumber  string    `json:"enrollmentNumber,omitempty"`
	TemplateID        string    `json:"templateId"`
	IssuedAt          time.Time `json:"issuedAt"`
}

// Options sizes the output page and the QR image resolution.
type Options struct {
	PageWidthPt  float64
	PageHeightPt float64
	QRSizePixels int
}

// Renderer produces one certificate document per student. Create one per
// generation job: the QR image memo is job-scoped. A Renderer is not safe
// for concurrent use.
type Renderer struct {
	opts    Options
	qrCache map[string][]byte
}

// NewRenderer constructs a renderer with defaulted options.
func NewRenderer(opts Options) *Renderer {
	if opts.PageWidthPt <= 0 {
		opts.PageWidthPt = 842
	}
	if opts.PageHeightPt <= 0 {
		opts.PageHeightPt = 595
	}
	if opts.QRSizePixels <= 0 {
		opts.QRSizePixels = 256
	}
	return &Renderer{opts: opts, qrCache: make(map[string][]byte)}
}

// Render builds a finished certificate for one student. The background
// bytes are shared across students and never mutated: each call starts a
// fresh document. Fields whose source attribute is empty are skipped.
func (r *Renderer) Render(student *models.Student, template *models.Template, background []byte, certificateNumber string, issuedAt time.Time) (*Artifact, error) {
	design := template.EffectiveDesign()

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: r.opts.PageWidthPt, Ht: r.opts.PageHeightPt},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	if len(background) > 0 {
		imageType, err := detectImageType(background)
		if err != nil {
			return nil, fmt.Errorf("template background: %w", err)
		}
		opts := gofpdf.ImageOptions{ImageType: imageType}
		pdf.RegisterImageOptionsReader("background", opts, bytes.NewReader(background))
		pdf.ImageOptions("background", 0, 0, r.opts.PageWidthPt, r.opts.PageHeightPt, false, opts, 0, "")
	}

	for _, field := range fieldOrder {
		value := r.fieldValue(student, field, certificateNumber, issuedAt)
		if value == "" {
			continue
		}
		style, ok := design.Fields[field]
		if !ok {
			continue
		}
		r.drawField(pdf, value, style)
	}

	payload, err := r.qrPayload(student, template, certificateNumber, issuedAt)
	if err != nil {
		return nil, err
	}
	if design.QR.Size > 0 {
		if err := r.drawQR(pdf, payload, design.QR); err != nil {
			return nil, err
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("serialize certificate: %w", err)
	}

	return &Artifact{
		Bytes:     buf.Bytes(),
		Filename:  artifactFilename(student.CandidateName, issuedAt),
		QRPayload: payload,
	}, nil
}

// fieldOrder fixes draw order so output is deterministic.
var fieldOrder = []models.FieldKind{
	models.FieldCandidateName,
	models.FieldJobRole,
	models.FieldTrainingCenter,
	models.FieldDistrict,
	models.FieldState,
	models.FieldAssessmentPartner,
	models.FieldEnrollmentNumber,
	models.FieldCertificateNumber,
	models.FieldDateOfIssuance,
}

// fieldValue maps a field kind to its source text for this student. The
// candidate-name field is a composed line: salutation, name, guardianship
// and identity number collapse into one drawable string.
func (r *Renderer) fieldValue(student *models.Student, kind models.FieldKind, certificateNumber string, issuedAt time.Time) string {
	switch kind {
	case models.FieldCandidateName:
		return composeNameLine(student)
	case models.FieldJobRole:
		return student.JobRole
	case models.FieldTrainingCenter:
		return student.TrainingCenter
	case models.FieldDistrict:
		return student.District
	case models.FieldState:
		return student.State
	case models.FieldAssessmentPartner:
		return student.AssessmentPartner
	case models.FieldEnrollmentNumber:
		return student.EnrollmentNumber
	case models.FieldCertificateNumber:
		return certificateNumber
	case models.FieldDateOfIssuance:
		when := issuedAt
		if student.DateOfIssuance != nil {
			when = *student.DateOfIssuance
		}
		return when.Format("02/01/2006")
	default:
		return ""
	}
}

// composeNameLine joins salutation, candidate name, guardianship and
// identity number into the single line drawn at the name position. The
// relation word defaults to "S/o" when a guardian name is present without
// an explicit relation.
func composeNameLine(student *models.Student) string {
	parts := make([]string, 0, 4)
	if student.Salutation != "" {
		parts = append(parts, student.Salutation)
	}
	if student.CandidateName != "" {
		parts = append(parts, student.CandidateName)
	}
	if student.NameOfFatherHusband != "" {
		relation := student.GuardianType
		if relation == "" {
			relation = "S/o"
		}
		parts = append(parts, relation, student.NameOfFatherHusband)
	}
	line := strings.Join(parts, " ")
	if student.Aadhaar != "" {
		if line != "" {
			line += " "
		}
		line += "(" + student.Aadhaar + ")"
	}
	return line
}

func (r *Renderer) drawField(pdf *gofpdf.Fpdf, text string, style models.FieldStyle) {
	_, _, ok := resolveFont(style.Font)
	size := style.FontSize
	measure := func(sz float64) float64 {
		if !ok {
			// Unknown font: draw with Helvetica but measure with the
			// approximation so placement stays self-consistent.
			pdf.SetFont("Helvetica", "", sz)
		}
		return measureText(pdf, text, style.Font, sz)
	}
	width := measure(size)
	if style.MaxWidth > 0 && width > style.MaxWidth {
		// Shrink to fit rather than overflowing the reserved area.
		size = size * style.MaxWidth / width
		width = measure(size)
	}
	x := alignedX(style, width, r.opts.PageWidthPt)
	pdf.SetTextColor(colorComponent(style.Color[0]), colorComponent(style.Color[1]), colorComponent(style.Color[2]))
	pdf.Text(x, style.Y, text)
}

func (r *Renderer) qrPayload(student *models.Student, template *models.Template, certificateNumber string, issuedAt time.Time) (string, error) {
	payload := QRPayload{
		StudentID:         student.ID,
		StudentName:       student.CandidateName,
		CertificateNumber: certificateNumber,
		EnrollmentNumber:  student.EnrollmentNumber,
		TemplateID:        template.ID,
		IssuedAt:          issuedAt.UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal qr payload: %w", err)
	}
	return string(data), nil
}

// drawQR encodes the payload as a PNG and places it at the configured
// position. Encoded images are memoized by exact payload string; with
// unique certificate numbers the hit rate is near zero, so this is an
// optimization, not a correctness requirement.
func (r *Renderer) drawQR(pdf *gofpdf.Fpdf, payload string, placement models.QRPlacement) error {
	png, ok := r.qrCache[payload]
	if !ok {
		encoded, err := qrcode.Encode(payload, qrcode.Medium, r.opts.QRSizePixels)
		if err != nil {
			return fmt.Errorf("encode qr: %w", err)
		}
		r.qrCache[payload] = encoded
		png = encoded
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	name := fmt.Sprintf("qr-%d", len(r.qrCache))
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
	pdf.ImageOptions(name, placement.X, placement.Y, placement.Size, placement.Size, false, opts, 0, "")
	return nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// artifactFilename derives a collision-resistant storage name from the
// sanitized student name and a millisecond timestamp.
func artifactFilename(candidateName string, issuedAt time.Time) string {
	name := unsafeFilenameChars.ReplaceAllString(candidateName, "_")
	if name == "" {
		name = "STUDENT"
	}
	return fmt.Sprintf("generated/%s_%d.pdf", name, issuedAt.UnixMilli())
}

func detectImageType(data []byte) (string, error) {
	switch {
	case len(data) > 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}):
		return "PNG", nil
	case len(data) > 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "JPG", nil
	default:
		return "", fmt.Errorf("unsupported background format (want PNG or JPEG)")
	}
}

func colorComponent(v float64) int {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return int(v*255 + 0.5)
}
