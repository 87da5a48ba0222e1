package model

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/datatypes"
)

var ErrInvalidDocumentType = errors.New("invalid document type")

type DocumentType string

const (
	DocumentTypeCommon DocumentType = "common"
	DocumentTypeType1  DocumentType = "type1"
	DocumentTypeType2  DocumentType = "type2"
)

var validDocumentTypes = []DocumentType{DocumentTypeCommon, DocumentTypeType1, DocumentTypeType2}

// ValidDocumentTypes returns a copy of the accepted document type tags.
func ValidDocumentTypes() []DocumentType {
	return slices.Clone(validDocumentTypes)
}

func ValidateDocumentType(docType DocumentType) error {
	if !slices.Contains(validDocumentTypes, docType) {
		return fmt.Errorf("%w: %q (valid: %v)", ErrInvalidDocumentType, docType, validDocumentTypes)
	}
	return nil
}

// Document is the durable record of one ingested source file.
type Document struct {
	DocumentID       string `gorm:"primaryKey;size:50" json:"document_id"`
	DocumentName     string `gorm:"size:255;not null" json:"document_name"`
	OriginalFilename string `gorm:"size:255;not null" json:"original_filename"`

	FileKey       string `gorm:"size:255;not null" json:"file_key"`
	FileSize      int64  `gorm:"not null" json:"file_size"`
	FileType      string `gorm:"size:100;not null" json:"file_type"`
	FileExtension string `gorm:"size:10;not null" json:"file_extension"`
	UploadPath    string `gorm:"size:500;not null" json:"upload_path"`

	UserID       string                     `gorm:"size:50;not null;index" json:"user_id"`
	IsPublic     bool                       `gorm:"not null;default:false" json:"is_public"`
	Permissions  datatypes.JSONSlice[string] `json:"permissions"`
	DocumentType DocumentType               `gorm:"size:20;not null;default:'common'" json:"document_type"`

	Status       DocumentStatus `gorm:"size:20;not null;default:'processing';index" json:"status"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`

	TotalPages     int    `gorm:"default:0" json:"total_pages"`
	ProcessedPages int    `gorm:"default:0" json:"processed_pages"`
	FileHash       string `gorm:"size:64;index" json:"file_hash"`

	VectorCollection string `gorm:"size:255" json:"vector_collection"`
	VectorCount      int    `gorm:"default:0" json:"vector_count"`

	Language string `gorm:"size:10" json:"language,omitempty"`
	Author   string `gorm:"size:255" json:"author,omitempty"`
	Subject  string `gorm:"size:500" json:"subject,omitempty"`

	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	ProcessingConfig datatypes.JSONMap `json:"processing_config,omitempty"`

	IsDeleted   bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	Chunks []Chunk `gorm:"foreignKey:DocumentID;references:DocumentID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// NewDocument builds a document in the processing state. Optional fields stay zero.
func NewDocument(id, name, originalFilename, fileKey string, fileSize int64,
	fileType, fileExtension, uploadPath, userID string) *Document {
	return &Document{
		DocumentID:       id,
		DocumentName:     name,
		OriginalFilename: originalFilename,
		FileKey:          fileKey,
		FileSize:         fileSize,
		FileType:         fileType,
		FileExtension:    fileExtension,
		UploadPath:       uploadPath,
		UserID:           userID,
		DocumentType:     DocumentTypeCommon,
		Status:           DocumentStatusProcessing,
	}
}

func (d *Document) String() string {
	return fmt.Sprintf("Document(id=%s, name=%s, status=%s)", d.DocumentID, d.DocumentName, d.Status)
}

// SetDocumentType stores docType if it is a known tag. An unknown tag returns
// ErrInvalidDocumentType and leaves the document unchanged.
func (d *Document) SetDocumentType(docType DocumentType) error {
	if err := ValidateDocumentType(docType); err != nil {
		return err
	}
	d.DocumentType = docType
	return nil
}

func (d *Document) DocumentTypeOrDefault() DocumentType {
	if d.DocumentType == "" {
		return DocumentTypeCommon
	}
	return d.DocumentType
}

func (d *Document) IsCommonType() bool { return d.DocumentTypeOrDefault() == DocumentTypeCommon }
func (d *Document) IsType1() bool      { return d.DocumentTypeOrDefault() == DocumentTypeType1 }
func (d *Document) IsType2() bool      { return d.DocumentTypeOrDefault() == DocumentTypeType2 }

func (d *Document) HasPermission(permission string) bool {
	return slices.Contains(d.Permissions, permission)
}

func (d *Document) AddPermission(permission string) {
	if !d.HasPermission(permission) {
		d.Permissions = append(d.Permissions, permission)
	}
}

func (d *Document) RemovePermission(permission string) {
	d.Permissions = slices.DeleteFunc(d.Permissions, func(p string) bool { return p == permission })
}

// SetPermissions replaces the permission set, dropping duplicates but keeping
// first-seen order.
func (d *Document) SetPermissions(permissions []string) {
	d.Permissions = d.Permissions[:0:0]
	for _, p := range permissions {
		d.AddPermission(p)
	}
}

func (d *Document) GetPermissions() []string {
	if d.Permissions == nil {
		return []string{}
	}
	return slices.Clone(d.Permissions)
}

func (d *Document) HasAnyPermission(permissions []string) bool {
	if len(d.Permissions) == 0 || len(permissions) == 0 {
		return false
	}
	return slices.ContainsFunc(permissions, d.HasPermission)
}

func (d *Document) HasAllPermissions(permissions []string) bool {
	if len(d.Permissions) == 0 || len(permissions) == 0 {
		return false
	}
	for _, p := range permissions {
		if !d.HasPermission(p) {
			return false
		}
	}
	return true
}

func (d *Document) TransitionTo(next DocumentStatus) error {
	if !d.Status.CanTransitionTo(next) {
		return illegalTransition("document", d.Status, next)
	}
	d.Status = next
	return nil
}

// RecordPageProcessed advances the processed page counter, never past TotalPages.
func (d *Document) RecordPageProcessed() {
	if d.ProcessedPages < d.TotalPages {
		d.ProcessedPages++
	}
}
