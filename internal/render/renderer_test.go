package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/certify-api/internal/models"
)

func testStudent() *models.Student {
	return &models.Student{
		ID:                  "student-1",
		Salutation:          "Mr.",
		CandidateName:       "John Doe",
		GuardianType:        "S/o",
		NameOfFatherHusband: "Richard Doe",
		Aadhaar:             "XXXX-1234",
		JobRole:             "Field Technician",
		TrainingCenter:      "Pune Skill Center",
		District:            "Pune",
		State:               "Maharashtra",
		EnrollmentNumber:    "ENR-001",
	}
}

func TestRenderProducesPDF(t *testing.T) {
	r := NewRenderer(Options{})
	template := &models.Template{ID: "tpl-1", Title: "Standard"}
	issued := time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)

	artifact, err := r.Render(testStudent(), template, nil, "CERT-100", issued)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(artifact.Bytes, []byte("%PDF")))
	assert.True(t, strings.HasPrefix(artifact.Filename, "generated/John_Doe_"))
	assert.True(t, strings.HasSuffix(artifact.Filename, ".pdf"))
}

func TestRenderQRPayloadContents(t *testing.T) {
	r := NewRenderer(Options{})
	template := &models.Template{ID: "tpl-1"}
	issued := time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)

	artifact, err := r.Render(testStudent(), template, nil, "CERT-100", issued)
	require.NoError(t, err)

	var payload QRPayload
	require.NoError(t, json.Unmarshal([]byte(artifact.QRPayload), &payload))
	assert.Equal(t, "student-1", payload.StudentID)
	assert.Equal(t, "John Doe", payload.StudentName)
	assert.Equal(t, "CERT-100", payload.CertificateNumber)
	assert.Equal(t, "ENR-001", payload.EnrollmentNumber)
	assert.Equal(t, "tpl-1", payload.TemplateID)
	assert.True(t, payload.IssuedAt.Equal(issued))
}

func TestRenderRejectsUnknownBackgroundFormat(t *testing.T) {
	r := NewRenderer(Options{})
	template := &models.Template{ID: "tpl-1"}

	_, err := r.Render(testStudent(), template, []byte("not an image"), "CERT-1", time.Now())
	require.Error(t, err)
}

func TestRenderSkipsEmptyFields(t *testing.T) {
	r := NewRenderer(Options{})
	template := &models.Template{ID: "tpl-1"}
	student := &models.Student{ID: "s1", CandidateName: "Solo Name"}

	artifact, err := r.Render(student, template, nil, "CERT-2", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, artifact.Bytes)
}

func TestComposeNameLine(t *testing.T) {
	line := composeNameLine(testStudent())
	assert.Equal(t, "Mr. John Doe S/o Richard Doe (XXXX-1234)", line)
}

func TestComposeNameLineDefaultsRelation(t *testing.T) {
	student := &models.Student{CandidateName: "Jane Roe", NameOfFatherHusband: "Rick Roe"}
	assert.Equal(t, "Jane Roe S/o Rick Roe", composeNameLine(student))
}

func TestComposeNameLineNameOnly(t *testing.T) {
	student := &models.Student{CandidateName: "Jane Roe"}
	assert.Equal(t, "Jane Roe", composeNameLine(student))
}

func TestFieldValueUsesStudentDate(t *testing.T) {
	r := NewRenderer(Options{})
	when := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	student := &models.Student{CandidateName: "X", DateOfIssuance: &when}

	got := r.fieldValue(student, models.FieldDateOfIssuance, "CERT-1", time.Now())
	assert.Equal(t, "01/02/2024", got)
}

func TestArtifactFilenameSanitized(t *testing.T) {
	issued := time.UnixMilli(1700000000000).UTC()
	name := artifactFilename("A/B c#d", issued)
	assert.Equal(t, "generated/A_B_c_d_1700000000000.pdf", name)

	fallback := artifactFilename("", issued)
	assert.Equal(t, "generated/STUDENT_1700000000000.pdf", fallback)
}

func TestDetectImageType(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00}
	kind, err := detectImageType(png)
	require.NoError(t, err)
	assert.Equal(t, "PNG", kind)

	jpg := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	kind, err = detectImageType(jpg)
	require.NoError(t, err)
	assert.Equal(t, "JPG", kind)

	_, err = detectImageType([]byte("garbage"))
	require.Error(t, err)
}
