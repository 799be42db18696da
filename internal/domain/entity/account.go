package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Account is the per-user credit and membership record. UserKey is a
// one-way hash of the caller's identity, never the identity itself.
type Account struct {
	UserKey            string    `json:"id_hash"`
	Credits            int       `json:"credits"`
	IsMember           bool      `json:"ismember"`
	BillingCustomerRef string    `json:"billing_customer_ref,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type EnforceOutcome int

const (
	Allowed EnforceOutcome = iota
	Rejected
)

func (o EnforceOutcome) String() string {
	if o == Allowed {
		return "allowed"
	}
	return "rejected"
}

// EnforceResult is the outcome of one metered request. A rejection is an
// expected domain outcome and is never reported as an error.
type EnforceResult struct {
	Outcome EnforceOutcome
	Account Account
	Created bool
}

func (r EnforceResult) Allowed() bool { return r.Outcome == Allowed }

// HashIdentity derives the pseudonymous user key from a raw identity.
func HashIdentity(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
