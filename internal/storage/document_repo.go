package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"docflow/internal/models"
	"docflow/internal/util"
)

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = `id::text, filename, doc_type, COALESCE(detection_reason,''), status,
       COALESCE(extracted_text,''), extracted_data, COALESCE(blob_location,''),
       COALESCE(content_sha256,''), COALESCE(error,''), upload_time, updated_at`

func (r *DocumentRepo) Create(ctx context.Context, d models.Document) error {
	data, err := json.Marshal(d.ExtractedData)
	if err != nil {
		return fmt.Errorf("encode extracted data: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO pdf_documents (id, filename, doc_type, detection_reason, status, extracted_text, extracted_data, blob_location, content_sha256, error)
VALUES ($1, $2, $3, NULLIF($4,''), $5, NULLIF($6,''), $7, NULLIF($8,''), NULLIF($9,''), NULLIF($10,''))`,
		d.ID, d.Filename, string(d.DocType), d.Detection, string(d.Status), d.ExtractedText, string(data), d.BlobLocation, d.ContentSHA256, d.Error,
	)
	if err != nil {
		return fmt.Errorf("%w: create document: %w", util.ErrPersistence, err)
	}
	return nil
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (models.Document, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM pdf_documents WHERE id::text=$1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("%w: document %s", util.ErrNotFound, id)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// List returns documents newest first without their extracted text.
func (r *DocumentRepo) List(ctx context.Context) ([]models.Document, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+documentColumns+` FROM pdf_documents ORDER BY upload_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.ExtractedText = ""
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, errText string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE pdf_documents SET status=$2, error=NULLIF($3,''), updated_at=NOW() WHERE id::text=$1`, id, string(status), errText)
	if err != nil {
		return fmt.Errorf("%w: update document status: %w", util.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", util.ErrNotFound, id)
	}
	return nil
}

func (r *DocumentRepo) MarkFailed(ctx context.Context, id, errText string) error {
	return r.UpdateStatus(ctx, id, models.StatusFailed, errText)
}

func scanDocument(row pgx.Row) (models.Document, error) {
	var d models.Document
	var data []byte
	if err := row.Scan(&d.ID, &d.Filename, &d.DocType, &d.Detection, &d.Status, &d.ExtractedText, &data,
		&d.BlobLocation, &d.ContentSHA256, &d.Error, &d.UploadTime, &d.UpdatedAt); err != nil {
		return models.Document{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d.ExtractedData); err != nil {
			return models.Document{}, fmt.Errorf("decode extracted data: %w", err)
		}
	}
	return d, nil
}
