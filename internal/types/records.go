package types

import "time"

// Customer is the counterparty referenced by a case, unique by email
type Customer struct {
	ID            string    `json:"id"`
	Email         string    `json:"customerEmail"`
	Name          string    `json:"customerName"`
	AccountNumber string    `json:"accountNumber,omitempty"`
	AccountType   string    `json:"accountType,omitempty"`
	Region        string    `json:"region,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Case is a collection case built from one decoded row
type Case struct {
	ID                 string    `json:"id"`
	Reference          string    `json:"caseId"`
	CustomerID         string    `json:"customerId"`
	CustomerName       string    `json:"customerName"`
	InvoiceID          string    `json:"invoiceId,omitempty"`
	AccountNumber      string    `json:"accountNumber,omitempty"`
	InvoiceAmountCents int64     `json:"invoiceAmountCents"`
	AgingDays          int       `json:"agingDays"`
	Status             string    `json:"status"`
	DueDate            string    `json:"dueDate,omitempty"`
	Region             string    `json:"region,omitempty"`
	SourceTaskID       string    `json:"sourceTaskId"`
	SourceRow          int       `json:"sourceRow"`
	CreatedAt          time.Time `json:"createdAt"`
}
