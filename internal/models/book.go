package models

import (
	"time"
)

type Book struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"size:200;not null" json:"title"`
	Author      string    `gorm:"size:100;not null;default:'Mwatha Njoroge'" json:"author"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Price       float64   `gorm:"not null" json:"price"`
	Category    string    `gorm:"size:50;not null;index" json:"category"`
	CoverImage  string    `gorm:"size:500;not null" json:"cover_image"`
	FileURL     string    `gorm:"size:500;not null" json:"-"`
	FileSize    int64     `gorm:"not null" json:"file_size"`
	Format      string    `gorm:"size:10;not null;default:'PDF'" json:"format"`
	ISBN        *string   `gorm:"size:20;uniqueIndex" json:"isbn,omitempty"`
	Pages       int       `json:"pages,omitempty"`
	Language    string    `gorm:"size:30;default:'English'" json:"language"`
	Featured    bool      `gorm:"default:false;index" json:"featured"`
	Active      bool      `gorm:"default:true;index" json:"active"`
	SalesCount  int       `gorm:"not null;default:0" json:"sales_count"`
	Tags        string    `gorm:"size:500" json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Book) TableName() string {
	return "books"
}
