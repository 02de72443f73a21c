package models

import "time"

// Access-rule kinds. The set is closed: side-effect dispatch switches on it
// and anything else is a programming error surfaced by the default branch.
const (
	RuleChatRole       = "chat_role"
	RuleClassEnrolment = "class_enrolment"
)

// Product is a catalog entry tied to a sales-platform product identifier.
// Deactivated products keep their rules but no new transitions consult them.
type Product struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	Name           string       `gorm:"size:255;not null" json:"name"`
	SalesProductID string       `gorm:"size:64;index" json:"sales_product_id"`
	IsActive       bool         `gorm:"not null;default:true" json:"is_active"`
	AccessRules    []AccessRule `json:"access_rules"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// AccessRule declares that owning the product grants a chat role or a class
// enrolment. Value holds the role id or the class id depending on Kind.
type AccessRule struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProductID uint      `gorm:"index;not null" json:"product_id"`
	Kind      string    `gorm:"size:32;not null" json:"kind"`
	Value     string    `gorm:"size:64;not null" json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// SalesProductMapping links one external sales identifier to an internal
// product, letting a purchased bundle grant access to several products.
type SalesProductMapping struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SalesProductID string    `gorm:"size:64;uniqueIndex:idx_sales_mapping;not null" json:"sales_product_id"`
	ProductID      uint      `gorm:"uniqueIndex:idx_sales_mapping;not null" json:"product_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Class is a cohort students get enrolled into, either manually by staff or
// automatically by product access rules.
type Class struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	ProductID *uint     `gorm:"index" json:"product_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Enrolment sources.
const (
	EnrolmentManual  = "manual"
	EnrolmentProduct = "product"
)

// Enrollment ties a student to a class. Source decides who may remove it:
// the lifecycle machine only ever revokes product-sourced rows.
type Enrollment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ClassID   uint      `gorm:"uniqueIndex:idx_class_student;not null" json:"class_id"`
	StudentID uint      `gorm:"uniqueIndex:idx_class_student;not null" json:"student_id"`
	Source    string    `gorm:"size:16;not null;default:manual" json:"source"`
	CreatedAt time.Time `json:"created_at"`
}
