package util

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const runIDLength = 21

// NewRunID returns a fresh identifier for one build run. Artifacts uploaded by
// the run are stored under it.
func NewRunID() (string, error) {
	id, err := gonanoid.New(runIDLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}
	return id, nil
}

// IsRunID reports whether s has the shape of an id returned by NewRunID.
func IsRunID(s string) bool {
	if len(s) != runIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// preferredPrefixes maps lowercased CURIE prefixes to their registered
// capitalization.
var preferredPrefixes = map[string]string{
	"doid":     "DOID",
	"efo":      "EFO",
	"go":       "GO",
	"gard":     "GARD",
	"hp":       "HP",
	"icd10":    "ICD10",
	"icd10cm":  "ICD10CM",
	"icd9":     "ICD9",
	"icd9cm":   "ICD9CM",
	"icdo":     "ICDO",
	"mesh":     "MESH",
	"mondo":    "MONDO",
	"ncit":     "NCIT",
	"omim":     "OMIM",
	"omimps":   "OMIMPS",
	"orphanet": "Orphanet",
	"ordo":     "Orphanet",
	"snomedct": "SCTID",
	"sctid":    "SCTID",
	"umls":     "UMLS",
	"uberon":   "UBERON",
	"cl":       "CL",
	"chebi":    "CHEBI",
	"hgnc":     "HGNC",
	"meddra":   "MEDDRA",
	"nifstd":   "NIFSTD",
	"kegg":     "KEGG",
}

// NormalizeCURIE joins prefix and accession into a CURIE using the preferred
// prefix capitalization. Unknown prefixes are kept as given. Accessions that
// repeat the prefix ("MONDO_0005148" under prefix MONDO) are stripped. With
// collapseOrphanet, an "Orphanet_" accession prefix is folded into the
// Orphanet prefix. ok is false when either part is empty.
func NormalizeCURIE(prefix, accession string, collapseOrphanet bool) (string, bool) {
	prefix = strings.TrimSpace(prefix)
	accession = strings.TrimSpace(accession)
	if collapseOrphanet {
		if rest, found := strings.CutPrefix(accession, "Orphanet_"); found {
			prefix, accession = "Orphanet", rest
		}
	}
	if prefix == "" || accession == "" {
		return "", false
	}
	if preferred, ok := preferredPrefixes[strings.ToLower(prefix)]; ok {
		prefix = preferred
	}
	for _, sep := range []string{":", "_"} {
		if rest, found := strings.CutPrefix(accession, prefix+sep); found {
			accession = rest
			break
		}
	}
	return prefix + ":" + accession, true
}
