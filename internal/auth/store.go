// Package auth authorizes match API callers for a system of record, either by
// API key (HTTP Basic, bcrypt-hashed in the credential store) or by a bearer
// token carrying the authorized sor as a claim.
package auth

import "context"

// CredentialStore returns the stored API key hashes an api user may present
// for a given system of record. A credential row whose sor is "*" authorizes
// every sor, so implementations match on sor OR the wildcard.
type CredentialStore interface {
	Hashes(ctx context.Context, apiUser, sor string) ([]string, error)
}

// WildcardSOR authorizes a credential for every system of record.
const WildcardSOR = "*"
