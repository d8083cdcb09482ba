package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	domain "github.com/pagecraft/api/internal/domain"
	"github.com/pagecraft/api/internal/platform/textutil"
)

// SubmitIdempotencyKey derives a stable key for an order submission from the
// project, the product spec, and the canonicalized recipient. Two submissions
// that differ only in recipient casing, width variants, or spacing derive the
// same key and are treated as duplicates.
func SubmitIdempotencyKey(projectID string, spec domain.ProductSpec, recipient domain.Recipient) string {
	digest := sha256.Sum256([]byte(strings.Join([]string{
		textutil.CanonicalField(projectID),
		specFingerprint(spec),
		recipientFingerprint(recipient),
	}, "|")))
	return "sub_" + hex.EncodeToString(digest[:])
}

func specFingerprint(spec domain.ProductSpec) string {
	raw := strings.Join([]string{
		string(spec.ProductType),
		spec.Variant,
		spec.Dimensions,
		fmt.Sprintf("%d", spec.PageCount),
		string(spec.PaperType),
		string(spec.CoverType),
		string(spec.Binding),
	}, "/")
	digest := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(digest[:])
}

func recipientFingerprint(r domain.Recipient) string {
	fields := []string{
		r.Name,
		r.Company,
		r.Address1,
		r.Address2,
		r.City,
		r.State,
		r.PostalCode,
		r.CountryCode,
		r.Email,
		r.Phone,
	}
	for i, field := range fields {
		fields[i] = textutil.CanonicalField(field)
	}
	digest := sha256.Sum256([]byte(strings.Join(fields, "/")))
	return hex.EncodeToString(digest[:])
}
