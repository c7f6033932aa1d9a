package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/certify-api/internal/models"
	appErrors "github.com/noah-isme/certify-api/pkg/errors"
)

type templateStore interface {
	Create(ctx context.Context, template *models.Template) error
	GetByID(ctx context.Context, id string) (*models.Template, error)
	GetByTitle(ctx context.Context, title string) (*models.Template, error)
	GetLatestActive(ctx context.Context) (*models.Template, error)
	List(ctx context.Context) ([]models.Template, error)
	UpdateDesign(ctx context.Context, id string, design *models.TemplateDesign) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

type metadataCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type blobStore interface {
	Save(filename string, data []byte) (string, error)
	Download(filename string) ([]byte, error)
	Delete(filename string) error
}

// TemplateServiceConfig tunes caching behaviour.
type TemplateServiceConfig struct {
	LayoutCacheTTL     time.Duration
	BackgroundCacheTTL time.Duration
}

// TemplateService resolves and manages certificate templates. Resolution
// accepts an identifier, a title, or nothing at all, in which case the
// most recently created active template wins.
type TemplateService struct {
	repo        templateStore
	cache       metadataCache
	storage     blobStore
	backgrounds *backgroundCache
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         TemplateServiceConfig
}

// NewTemplateService constructs the service. The cache may be nil, in
// which case every resolution hits the database.
func NewTemplateService(repo templateStore, cache metadataCache, storage blobStore, logger *zap.Logger, cfg TemplateServiceConfig) *TemplateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LayoutCacheTTL <= 0 {
		cfg.LayoutCacheTTL = 10 * time.Minute
	}
	if cfg.BackgroundCacheTTL <= 0 {
		cfg.BackgroundCacheTTL = 5 * time.Minute
	}
	return &TemplateService{
		repo:        repo,
		cache:       cache,
		storage:     storage,
		backgrounds: newBackgroundCache(cfg.BackgroundCacheTTL),
		logger:      logger,
		cfg:         cfg,
	}
}

// SetMetrics attaches a metrics service. All recorders tolerate a nil
// receiver, so this is optional.
func (s *TemplateService) SetMetrics(metrics *MetricsService) {
	s.metrics = metrics
}

// Resolve picks the template for a generation request. A non-empty ref is
// tried as an identifier first and a title second; an empty ref selects
// the latest active template.
func (s *TemplateService) Resolve(ctx context.Context, ref string) (*models.Template, error) {
	cacheKey := "template:resolve:" + ref
	if s.cache != nil {
		var cached models.Template
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	template, err := s.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, template, s.cfg.LayoutCacheTTL); err != nil {
			s.logger.Warn("failed to cache resolved template", zap.Error(err))
		}
	}
	return template, nil
}

func (s *TemplateService) lookup(ctx context.Context, ref string) (*models.Template, error) {
	if ref == "" {
		template, err := s.repo.GetLatestActive(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrTemplateNotFound, "no active template available")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active template")
		}
		return template, nil
	}

	template, err := s.repo.GetByID(ctx, ref)
	if err == nil {
		return template, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}

	template, err = s.repo.GetByTitle(ctx, ref)
	if err == nil {
		return template, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template by title")
	}

	// A stale reference still generates against whatever is live.
	template, err = s.repo.GetLatestActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTemplateNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active template")
	}
	return template, nil
}

// Background loads the template's background image, consulting an
// in-process byte cache first. A fetch failure is terminal for the
// calling generation job.
func (s *TemplateService) Background(ctx context.Context, template *models.Template) ([]byte, error) {
	if template.FilePath == "" {
		return nil, appErrors.Clone(appErrors.ErrTemplateUnavailable, "template has no background file")
	}
	key := template.ID + "|" + template.FilePath
	if data, ok := s.backgrounds.get(key); ok {
		s.metrics.RecordCacheLookup(true)
		return data, nil
	}
	s.metrics.RecordCacheLookup(false)
	data, err := s.storage.Download(template.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTemplateUnavailable.Code, appErrors.ErrTemplateUnavailable.Status, "template background unavailable")
	}
	s.backgrounds.put(key, data)
	return data, nil
}

// List returns all templates.
func (s *TemplateService) List(ctx context.Context) ([]models.Template, error) {
	templates, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list templates")
	}
	return templates, nil
}

// Get loads one template by identifier.
func (s *TemplateService) Get(ctx context.Context, id string) (*models.Template, error) {
	template, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTemplateNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}
	return template, nil
}

var templateFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Upload stores a new background image and creates the template row.
func (s *TemplateService) Upload(ctx context.Context, title, originalFilename string, data []byte, active bool) (*models.Template, error) {
	if title == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title is required")
	}
	if len(data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "background file is empty")
	}
	ext := strings.ToLower(filepath.Ext(originalFilename))
	switch ext {
	case ".png", ".jpg", ".jpeg":
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "background must be a PNG or JPEG image")
	}

	safe := templateFilenameChars.ReplaceAllString(title, "_")
	storedPath := fmt.Sprintf("templates/%s_%d%s", safe, time.Now().UnixMilli(), ext)
	if _, err := s.storage.Save(storedPath, data); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store template background")
	}

	template := &models.Template{
		Title:    title,
		FilePath: storedPath,
		IsActive: active,
	}
	if err := s.repo.Create(ctx, template); err != nil {
		if delErr := s.storage.Delete(storedPath); delErr != nil {
			s.logger.Warn("failed to remove orphaned template background", zap.String("path", storedPath), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create template")
	}

	s.invalidate(ctx)
	return template, nil
}

// UpdateDesign validates and stores a new field layout.
func (s *TemplateService) UpdateDesign(ctx context.Context, id string, design *models.TemplateDesign) error {
	if design == nil {
		return appErrors.Clone(appErrors.ErrValidation, "design payload is required")
	}
	if err := design.Validate(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if err := s.repo.UpdateDesign(ctx, id, design); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrTemplateNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update template design")
	}
	s.invalidate(ctx)
	return nil
}

// SetActive toggles whether a template participates in latest-active
// resolution.
func (s *TemplateService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrTemplateNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to toggle template")
	}
	s.invalidate(ctx)
	return nil
}

// Delete removes a template row and its background blob.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	template, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrTemplateNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete template")
	}
	if template.FilePath != "" {
		if err := s.storage.Delete(template.FilePath); err != nil {
			s.logger.Warn("failed to delete template background", zap.String("path", template.FilePath), zap.Error(err))
		}
	}
	s.invalidate(ctx)
	return nil
}

func (s *TemplateService) invalidate(ctx context.Context) {
	s.backgrounds.clear()
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "template:*"); err != nil {
		s.logger.Warn("failed to invalidate template cache", zap.Error(err))
	}
}

// backgroundCache holds decoded background images in memory. Backgrounds
// are multi-megabyte blobs reread for every generation batch otherwise;
// entries expire on a TTL and the whole cache is dropped on any template
// mutation.
type backgroundCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]backgroundEntry
}

type backgroundEntry struct {
	data    []byte
	expires time.Time
}

func newBackgroundCache(ttl time.Duration) *backgroundCache {
	return &backgroundCache{ttl: ttl, entries: make(map[string]backgroundEntry)}
}

func (c *backgroundCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.data, true
}

func (c *backgroundCache) put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = backgroundEntry{data: data, expires: time.Now().Add(c.ttl)}
}

func (c *backgroundCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]backgroundEntry)
}
