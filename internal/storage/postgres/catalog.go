package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// ListProductsBySupplier returns the supplier's catalog products.
func (s *Store) ListProductsBySupplier(ctx context.Context, supplierID string) ([]crawler.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, supplier_id, name, price, stock, image_url, source_url, metadata, updated_at
FROM products WHERE supplier_id = $1 ORDER BY id`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []crawler.Product
	for rows.Next() {
		var (
			p    crawler.Product
			meta []byte
		)
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.Name, &p.Price, &p.Stock, &p.ImageURL, &p.SourceURL, &meta, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &p.Metadata); err != nil {
				return nil, fmt.Errorf("decode product metadata: %w", err)
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

// CreateProduct inserts a catalog product.
func (s *Store) CreateProduct(ctx context.Context, p crawler.Product) error {
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO products (id, supplier_id, name, price, stock, image_url, source_url, metadata, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.SupplierID, p.Name, p.Price, p.Stock, p.ImageURL, p.SourceURL, meta, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// UpdateProduct writes price, stock and metadata for an existing product.
func (s *Store) UpdateProduct(ctx context.Context, p crawler.Product) error {
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE products SET name = $2, price = $3, stock = $4, image_url = $5,
	source_url = $6, metadata = $7, updated_at = $8
WHERE id = $1`,
		p.ID, p.Name, p.Price, p.Stock, p.ImageURL, p.SourceURL, meta, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update product %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update product %s: %w", p.ID, crawler.ErrNotFound)
	}
	return nil
}

// RecordActivity appends an audit row.
func (s *Store) RecordActivity(ctx context.Context, r crawler.ActivityRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO crawl_activity (kind, target_id, job_id, at, note) VALUES ($1,$2,$3,$4,$5)`,
		r.Kind, r.TargetID, r.JobID, r.At, r.Note)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func marshalMetadata(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal product metadata: %w", err)
	}
	return out, nil
}
