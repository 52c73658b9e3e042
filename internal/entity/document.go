package entity

import (
	"time"

	"github.com/google/uuid"
)

// Document is a contract document stored in the documents bucket.
type Document struct {
	ID          uuid.UUID `json:"id"`
	ContractID  string    `json:"contract_id"`
	StoragePath string    `json:"storage_path"`
	FileName    string    `json:"file_name"`
	IsPrimary   bool      `json:"is_primary"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
