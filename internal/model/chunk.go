package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeImage    ChunkType = "image"
	ChunkTypeCombined ChunkType = "combined"
)

// Chunk is one embedded unit of content derived from a document page.
// A chunk is persisted only after its vector has been written.
type Chunk struct {
	ChunkID    string `gorm:"primaryKey;size:64" json:"chunk_id"`
	DocumentID string `gorm:"size:50;not null;index" json:"document_id"`

	PageNumber       int       `gorm:"not null" json:"page_number"`
	ChunkType        ChunkType `gorm:"size:50;not null" json:"chunk_type"`
	Content          string    `gorm:"type:text" json:"content"`
	ImageDescription string    `gorm:"type:text" json:"image_description,omitempty"`
	ImagePath        string    `gorm:"size:500" json:"image_path,omitempty"`

	VectorID        string `gorm:"size:255" json:"vector_id"`
	EmbeddingModel  string `gorm:"size:100" json:"embedding_model"`
	VectorDimension int    `json:"vector_dimension"`

	CharCount int    `json:"char_count"`
	WordCount int    `json:"word_count"`
	Language  string `gorm:"size:10" json:"language,omitempty"`

	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (Chunk) TableName() string {
	return "document_chunks"
}

// EmbeddingText is the text sent to the embedder for this chunk.
func (c *Chunk) EmbeddingText() string {
	switch c.ChunkType {
	case ChunkTypeImage:
		return c.ImageDescription
	case ChunkTypeCombined:
		return strings.TrimSpace(c.ImageDescription + "\n" + c.Content)
	default:
		return c.Content
	}
}

// CountText fills CharCount and WordCount from the chunk's embedding text.
func (c *Chunk) CountText() {
	text := c.EmbeddingText()
	c.CharCount = utf8.RuneCountInString(text)
	c.WordCount = len(strings.Fields(text))
}

// MarkVectorized records the vector reference. The store ID and model are set together.
func (c *Chunk) MarkVectorized(vectorID, embeddingModel string, dimension int) {
	if vectorID == "" || embeddingModel == "" {
		return
	}
	c.VectorID = vectorID
	c.EmbeddingModel = embeddingModel
	c.VectorDimension = dimension
}

func (c *Chunk) IsVectorized() bool {
	return c.VectorID != "" && c.EmbeddingModel != ""
}
