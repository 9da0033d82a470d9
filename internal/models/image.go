package models

import "time"

// ProductImage is a stored image row. At most one live row per product has IsMain set.
type ProductImage struct {
	ID           int        `json:"id" db:"image_id"`
	ProductID    int        `json:"product_id" db:"product_id"`
	URL          string     `json:"url" db:"url"`
	AltText      string     `json:"alt_text" db:"alt_text"`
	IsMain       bool       `json:"is_main" db:"is_main"`
	DisplayOrder int        `json:"display_order" db:"display_order"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	DeletedAt    *time.Time `json:"-" db:"deleted_at"`
}

// ImageDescriptor describes an uploaded image to be recorded against a product.
// A nil DisplayOrder appends after the current last image.
type ImageDescriptor struct {
	URL          string `json:"url"`
	AltText      string `json:"alt_text"`
	IsMain       bool   `json:"is_main"`
	DisplayOrder *int   `json:"display_order"`
}

// ImageOrder assigns a display position to one image.
type ImageOrder struct {
	ImageID      int `json:"image_id"`
	DisplayOrder int `json:"display_order"`
}

// UploadResult is returned by the upload gateway.
type UploadResult struct {
	URL    string `json:"url"`
	Key    string `json:"filename"`
	Size   int64  `json:"size"`
	Bucket string `json:"bucket"`
}

// PendingDeletion is a blob key queued for removal from object storage.
type PendingDeletion struct {
	Bucket      string     `json:"bucket" db:"bucket"`
	ObjectKey   string     `json:"object_key" db:"object_key"`
	ImageID     *int       `json:"image_id" db:"image_id"`
	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	NotBefore   time.Time  `json:"not_before" db:"not_before"`
	Attempts    int        `json:"attempts" db:"attempts"`
	LastError   *string    `json:"last_error" db:"last_error"`
	CheckedAt   *time.Time `json:"last_checked_at" db:"last_checked_at"`
}
