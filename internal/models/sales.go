package models

import "time"

// Commercial statuses derived from sales-platform transactions, ordered by
// priority: Active wins over Overdue wins over Cancelled wins over Refunded.
const (
	CommercialActive    = "ACTIVE"
	CommercialOverdue   = "OVERDUE"
	CommercialCancelled = "CANCELLED"
	CommercialRefunded  = "REFUNDED"
)

var commercialPriority = map[string]int{
	CommercialActive:    4,
	CommercialOverdue:   3,
	CommercialCancelled: 2,
	CommercialRefunded:  1,
}

// CommercialPriority returns the merge priority of a commercial status,
// zero for anything unrecognised.
func CommercialPriority(status string) int {
	return commercialPriority[status]
}

// SalesBuyer is one snapshot row per (buyer e-mail, sales product). It is
// upserted by the buyer-snapshot sync and linked to a Student once the buyer
// has an account.
type SalesBuyer struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Email          string    `gorm:"size:255;uniqueIndex:idx_buyer_product;not null" json:"email"`
	SalesProductID string    `gorm:"size:64;uniqueIndex:idx_buyer_product;not null" json:"sales_product_id"`
	Name           string    `gorm:"size:255" json:"name"`
	Phone          string    `gorm:"size:32" json:"phone"`
	Status         string    `gorm:"size:16;not null" json:"status"`
	StudentID      *uint     `gorm:"index" json:"student_id"`
	LastSyncedAt   time.Time `json:"last_synced_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CourseStatusHistory is a type-2 slowly-changing-dimension log of the
// commercial status per (student, product). At most one row per pair is
// current; a change closes the old row and inserts a new current one.
type CourseStatusHistory struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	StudentID uint       `gorm:"index:idx_course_status;not null" json:"student_id"`
	ProductID uint       `gorm:"index:idx_course_status;not null" json:"product_id"`
	Status    string     `gorm:"size:16;not null" json:"status"`
	ValidFrom time.Time  `gorm:"not null" json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to"`
	IsCurrent bool       `gorm:"not null;default:true;index" json:"is_current"`
}
