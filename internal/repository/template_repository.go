package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/certify-api/internal/models"
)

const templateColumns = `id, title, file_path, is_active, design, created_at, updated_at`

// TemplateRepository manages persistence for certificate templates.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository constructs a TemplateRepository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create stores a new template row.
func (r *TemplateRepository) Create(ctx context.Context, template *models.Template) error {
	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	template.CreatedAt = now
	template.UpdatedAt = now
	const query = `INSERT INTO templates (id, title, file_path, is_active, design, created_at, updated_at)
	VALUES (:id, :title, :file_path, :is_active, :design, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, template); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// GetByID retrieves one template row.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	query := fmt.Sprintf("SELECT %s FROM templates WHERE id = $1", templateColumns)
	var template models.Template
	if err := r.db.GetContext(ctx, &template, query, id); err != nil {
		return nil, err
	}
	return &template, nil
}

// GetByTitle retrieves a template by its unique title.
func (r *TemplateRepository) GetByTitle(ctx context.Context, title string) (*models.Template, error) {
	query := fmt.Sprintf("SELECT %s FROM templates WHERE title = $1", templateColumns)
	var template models.Template
	if err := r.db.GetContext(ctx, &template, query, title); err != nil {
		return nil, err
	}
	return &template, nil
}

// GetLatestActive returns the most recently created active template.
func (r *TemplateRepository) GetLatestActive(ctx context.Context) (*models.Template, error) {
	query := fmt.Sprintf("SELECT %s FROM templates WHERE is_active = TRUE ORDER BY created_at DESC LIMIT 1", templateColumns)
	var template models.Template
	if err := r.db.GetContext(ctx, &template, query); err != nil {
		return nil, err
	}
	return &template, nil
}

// List returns all templates, newest first.
func (r *TemplateRepository) List(ctx context.Context) ([]models.Template, error) {
	query := fmt.Sprintf("SELECT %s FROM templates ORDER BY created_at DESC", templateColumns)
	var templates []models.Template
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// UpdateDesign replaces the stored field layout.
func (r *TemplateRepository) UpdateDesign(ctx context.Context, id string, design *models.TemplateDesign) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE templates SET design = $2, updated_at = $3 WHERE id = $1",
		id, design, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update template design: %w", err)
	}
	return requireRow(res)
}

// SetActive toggles the active flag.
func (r *TemplateRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE templates SET is_active = $2, updated_at = $3 WHERE id = $1",
		id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("toggle template: %w", err)
	}
	return requireRow(res)
}

// Delete removes a template row.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM templates WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check affected rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
