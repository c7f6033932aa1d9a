package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/certify-api/internal/models"
	appErrors "github.com/noah-isme/certify-api/pkg/errors"
)

type templateStoreStub struct {
	byID    map[string]*models.Template
	byTitle map[string]*models.Template
	active  *models.Template
}

func newTemplateStoreStub() *templateStoreStub {
	return &templateStoreStub{
		byID:    map[string]*models.Template{},
		byTitle: map[string]*models.Template{},
	}
}

func (s *templateStoreStub) add(template *models.Template) {
	s.byID[template.ID] = template
	s.byTitle[template.Title] = template
	if template.IsActive {
		s.active = template
	}
}

func (s *templateStoreStub) Create(ctx context.Context, template *models.Template) error {
	if template.ID == "" {
		template.ID = "tpl-" + template.Title
	}
	s.add(template)
	return nil
}

func (s *templateStoreStub) GetByID(ctx context.Context, id string) (*models.Template, error) {
	template, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return template, nil
}

func (s *templateStoreStub) GetByTitle(ctx context.Context, title string) (*models.Template, error) {
	template, ok := s.byTitle[title]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return template, nil
}

func (s *templateStoreStub) GetLatestActive(ctx context.Context) (*models.Template, error) {
	if s.active == nil {
		return nil, sql.ErrNoRows
	}
	return s.active, nil
}

func (s *templateStoreStub) List(ctx context.Context) ([]models.Template, error) {
	var out []models.Template
	for _, template := range s.byID {
		out = append(out, *template)
	}
	return out, nil
}

func (s *templateStoreStub) UpdateDesign(ctx context.Context, id string, design *models.TemplateDesign) error {
	template, ok := s.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	template.Design = design
	return nil
}

func (s *templateStoreStub) SetActive(ctx context.Context, id string, active bool) error {
	template, ok := s.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	template.IsActive = active
	if active {
		s.active = template
	}
	return nil
}

func (s *templateStoreStub) Delete(ctx context.Context, id string) error {
	if _, ok := s.byID[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.byID, id)
	return nil
}

func newTemplateServiceForTest() (*TemplateService, *templateStoreStub, *blobStoreStub) {
	repo := newTemplateStoreStub()
	blobs := newBlobStoreStub()
	svc := NewTemplateService(repo, nil, blobs, zap.NewNop(), TemplateServiceConfig{
		LayoutCacheTTL:     time.Minute,
		BackgroundCacheTTL: time.Minute,
	})
	return svc, repo, blobs
}

func TestTemplateResolveByID(t *testing.T) {
	svc, repo, _ := newTemplateServiceForTest()
	repo.add(&models.Template{ID: "tpl-1", Title: "Standard"})

	template, err := svc.Resolve(context.Background(), "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "tpl-1", template.ID)
}

func TestTemplateResolveFallsBackToTitle(t *testing.T) {
	svc, repo, _ := newTemplateServiceForTest()
	repo.add(&models.Template{ID: "tpl-1", Title: "Standard"})

	template, err := svc.Resolve(context.Background(), "Standard")
	require.NoError(t, err)
	assert.Equal(t, "tpl-1", template.ID)
}

func TestTemplateResolveLatestActiveWhenEmpty(t *testing.T) {
	svc, repo, _ := newTemplateServiceForTest()
	repo.add(&models.Template{ID: "tpl-old", Title: "Old"})
	repo.add(&models.Template{ID: "tpl-new", Title: "New", IsActive: true})

	template, err := svc.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "tpl-new", template.ID)
}

func TestTemplateResolveStaleRefFallsBackToLatestActive(t *testing.T) {
	svc, repo, _ := newTemplateServiceForTest()
	repo.add(&models.Template{ID: "tpl-live", Title: "Live", IsActive: true})

	template, err := svc.Resolve(context.Background(), "stale-ref")
	require.NoError(t, err)
	assert.Equal(t, "tpl-live", template.ID)
}

func TestTemplateResolveNotFound(t *testing.T) {
	svc, _, _ := newTemplateServiceForTest()
	_, err := svc.Resolve(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTemplateNotFound.Code, appErrors.FromError(err).Code)
}

func TestTemplateBackgroundCaches(t *testing.T) {
	svc, repo, blobs := newTemplateServiceForTest()
	template := &models.Template{ID: "tpl-1", Title: "Standard", FilePath: "templates/bg.png"}
	repo.add(template)
	_, err := blobs.Save("templates/bg.png", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)

	first, err := svc.Background(context.Background(), template)
	require.NoError(t, err)

	// Remove the underlying blob; the cached copy must still be served.
	require.NoError(t, blobs.Delete("templates/bg.png"))
	second, err := svc.Background(context.Background(), template)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTemplateBackgroundUnavailable(t *testing.T) {
	svc, repo, _ := newTemplateServiceForTest()
	template := &models.Template{ID: "tpl-1", FilePath: "templates/missing.png"}
	repo.add(template)

	_, err := svc.Background(context.Background(), template)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTemplateUnavailable.Code, appErrors.FromError(err).Code)
}

func TestTemplateUploadValidatesExtension(t *testing.T) {
	svc, _, _ := newTemplateServiceForTest()
	_, err := svc.Upload(context.Background(), "Standard", "design.pdf", []byte("data"), true)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTemplateUploadStoresBackground(t *testing.T) {
	svc, repo, blobs := newTemplateServiceForTest()
	template, err := svc.Upload(context.Background(), "Standard", "bg.png", []byte{0x89, 'P', 'N', 'G'}, true)
	require.NoError(t, err)
	require.NotEmpty(t, template.ID)
	assert.Contains(t, template.FilePath, "templates/Standard_")
	assert.Len(t, blobs.saved, 1)
	assert.NotNil(t, repo.byID[template.ID])
}

func TestTemplateUpdateDesignRejectsUnknownFont(t *testing.T) {
	svc, repo, _ := newTemplateServiceForTest()
	repo.add(&models.Template{ID: "tpl-1", Title: "Standard"})

	design := &models.TemplateDesign{
		Fields: map[models.FieldKind]models.FieldStyle{
			models.FieldCandidateName: {Y: 100, FontSize: 12, Font: "ComicSans"},
		},
	}
	err := svc.UpdateDesign(context.Background(), "tpl-1", design)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTemplateUpdateDesignPersists(t *testing.T) {
	svc, repo, _ := newTemplateServiceForTest()
	repo.add(&models.Template{ID: "tpl-1", Title: "Standard"})

	design := &models.TemplateDesign{
		Fields: map[models.FieldKind]models.FieldStyle{
			models.FieldCandidateName: {Y: 261, FontSize: 14, Font: models.FontHelveticaBold, Align: models.AlignCenter},
		},
		QR: models.QRPlacement{X: 70, Y: 480, Size: 90},
	}
	require.NoError(t, svc.UpdateDesign(context.Background(), "tpl-1", design))
	require.NotNil(t, repo.byID["tpl-1"].Design)
	assert.Equal(t, 90.0, repo.byID["tpl-1"].Design.QR.Size)
}
