package models

// Address is a delivery address owned by a user.
type Address struct {
	ID      uint64 `json:"id"`
	UserID  uint64 `json:"userId"`
	Line1   string `json:"line1"`
	City    string `json:"city"`
	Country string `json:"country"`
}
