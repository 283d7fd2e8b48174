// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package lookup resolves missing PubMed identifiers through the NCBI
// E-utilities API. Implements: prd001-schema R3.3;
// docs/ARCHITECTURE § Identifier Lookup.
//
// Lookup is best-effort: a document whose PMID cannot be resolved keeps
// its synthetic token identity and still finalizes.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pdiddy/evidence-engine/internal/httputil"
)

// eutilsSearchBase is the NCBI esearch endpoint. Declared as a var so
// tests can substitute an httptest server.
var eutilsSearchBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi"

// Client queries PubMed for a PMID by DOI or title.
type Client struct {
	HTTP *http.Client
	// Email is sent as the NCBI-recommended contact parameter.
	Email string
}

// esearchResponse is the subset of the esearch JSON envelope we read.
type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// PMIDByDOI looks up the PMID for a DOI. Returns ok=false when PubMed
// has no unambiguous match.
func (c *Client) PMIDByDOI(ctx context.Context, doi string) (string, bool, error) {
	if doi == "" {
		return "", false, nil
	}
	return c.search(ctx, fmt.Sprintf("%s[AID]", doi))
}

// PMIDByTitle looks up the PMID for an exact title match.
func (c *Client) PMIDByTitle(ctx context.Context, title string) (string, bool, error) {
	if title == "" {
		return "", false, nil
	}
	return c.search(ctx, fmt.Sprintf("%s[Title]", title))
}

// search runs one esearch query. Anything other than exactly one hit is
// treated as no match: a multi-hit result would bind the wrong identity.
func (c *Client) search(ctx context.Context, term string) (string, bool, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmode": {"json"},
		"retmax":  {"2"},
	}
	if c.Email != "" {
		params.Set("email", c.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, eutilsSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return "", false, fmt.Errorf("creating request: %w", err)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return "", false, fmt.Errorf("NCBI esearch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("NCBI esearch returned HTTP %d", resp.StatusCode)
	}

	var er esearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return "", false, fmt.Errorf("parsing esearch response: %w", err)
	}

	ids := er.ESearchResult.IDList
	if len(ids) != 1 {
		return "", false, nil
	}
	return ids[0], true, nil
}
