package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for derived document ids. The version suffix allows the
// derivation to change without colliding with existing documents.
const (
	DomainMatch     = "brandmodel/match/v1"
	DomainMessage   = "brandmodel/message/v1"
	DomainReport    = "brandmodel/report/v1"
	DomainAnalytics = "brandmodel/analytics/v1"
)

// idLength is the number of hex characters kept from the digest.
const idLength = 32

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))[:idLength]
}

func derive(domain string, obj map[string]any) (string, error) {
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("%s: marshal: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// MatchID derives the id of the generation-th match of a pair. Generation
// is the number of matches the pair had before this one, so two concurrent
// creators of the same match derive the same id.
func MatchID(pairKey string, generation int) string {
	id, err := derive(DomainMatch, map[string]any{
		"pair_key":   pairKey,
		"generation": generation,
	})
	if err != nil {
		panic(err) // only strings and ints
	}
	return id
}

// MessageID derives a message document id from the action that sent it.
func MessageID(actionID string) string {
	id, err := derive(DomainMessage, map[string]any{"action_id": actionID})
	if err != nil {
		panic(err)
	}
	return id
}

// ReportID derives a report document id from the action that filed it.
func ReportID(actionID string) string {
	id, err := derive(DomainReport, map[string]any{"action_id": actionID})
	if err != nil {
		panic(err)
	}
	return id
}

// AnalyticsID derives the document id of a buffered analytics event.
func AnalyticsID(localID string) string {
	id, err := derive(DomainAnalytics, map[string]any{"local_id": localID})
	if err != nil {
		panic(err)
	}
	return id
}
