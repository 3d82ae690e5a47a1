package docs

import (
	"strings"

	"github.com/apascualco/foodgate/internal/domain"
	"github.com/getkin/kin-openapi/openapi3"
)

// PlaceholderToken in a response description is replaced by the name of
// the service that published it.
const PlaceholderToken = "{service}"

// rewriteOperations tags, labels and fills in the placeholders of every
// operation in doc on behalf of service.
func rewriteOperations(service string, doc *openapi3.T) {
	label := "[" + service + "] "

	for _, item := range doc.Paths.Map() {
		if item == nil {
			continue
		}
		for _, op := range item.Operations() {
			if len(op.Tags) == 0 {
				op.Tags = []string{service}
			}
			if op.Description != "" && !strings.HasPrefix(op.Description, label) {
				op.Description = label + op.Description
			}
			if op.Responses == nil {
				continue
			}
			for _, ref := range op.Responses.Map() {
				if ref == nil || ref.Value == nil || ref.Value.Description == nil {
					continue
				}
				if strings.Contains(*ref.Value.Description, PlaceholderToken) {
					d := strings.ReplaceAll(*ref.Value.Description, PlaceholderToken, service)
					ref.Value.Description = &d
				}
			}
		}
	}
}

// gatewayPath re-keys an upstream path under the gateway prefix.
func gatewayPath(service, base, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return domain.APIPrefix + "/" + service + base + path
}
