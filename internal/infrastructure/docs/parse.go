package docs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/apascualco/foodgate/internal/domain"
	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
)

// ParseDescription decodes an OpenAPI 3 or Swagger 2.0 JSON description into
// the OpenAPI 3 model.
func ParseDescription(raw []byte) (*openapi3.T, error) {
	var version struct {
		OpenAPI string `json:"openapi"`
		Swagger string `json:"swagger"`
	}
	if err := json.Unmarshal(raw, &version); err != nil {
		return nil, fmt.Errorf("%w: not a JSON document: %v", domain.ErrDocsUnavailable, err)
	}

	var doc *openapi3.T
	switch {
	case strings.HasPrefix(version.OpenAPI, "3."):
		loaded, err := openapi3.NewLoader().LoadFromData(raw)
		if err != nil {
			// unresolvable refs are kept verbatim
			slog.Debug("api description refs not resolved", "error", err)
			loaded = &openapi3.T{}
			if err := json.Unmarshal(raw, loaded); err != nil {
				return nil, fmt.Errorf("%w: invalid openapi document: %v", domain.ErrDocsUnavailable, err)
			}
		}
		doc = loaded
	case version.Swagger == "2.0":
		var doc2 openapi2.T
		if err := json.Unmarshal(raw, &doc2); err != nil {
			return nil, fmt.Errorf("%w: invalid swagger document: %v", domain.ErrDocsUnavailable, err)
		}
		converted, err := openapi2conv.ToV3(&doc2)
		if err != nil {
			return nil, fmt.Errorf("%w: converting swagger document: %v", domain.ErrDocsUnavailable, err)
		}
		if doc2.Host == "" && strings.Trim(doc2.BasePath, "/") != "" {
			converted.AddServer(&openapi3.Server{URL: doc2.BasePath})
		}
		doc = converted
	default:
		return nil, fmt.Errorf("%w: unsupported description format", domain.ErrDocsUnavailable)
	}

	if doc.Paths == nil {
		doc.Paths = openapi3.NewPaths()
	}
	return doc, nil
}

// basePath returns the path component of the description's first server,
// which upstream paths are relative to.
func basePath(doc *openapi3.T) string {
	if len(doc.Servers) == 0 || doc.Servers[0] == nil {
		return ""
	}
	u, err := url.Parse(doc.Servers[0].URL)
	if err != nil {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}
