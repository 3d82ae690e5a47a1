package docs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Component sections as they appear in references, e.g. #/components/schemas/X.
const (
	kindSchemas         = "schemas"
	kindParameters      = "parameters"
	kindHeaders         = "headers"
	kindRequestBodies   = "requestBodies"
	kindResponses       = "responses"
	kindSecuritySchemes = "securitySchemes"
	kindExamples        = "examples"
	kindLinks           = "links"
	kindCallbacks       = "callbacks"
)

func componentRef(kind, name string) string {
	return "#/components/" + kind + "/" + name
}

// renames maps a component section to old name -> new name.
type renames map[string]map[string]string

func (r renames) add(kind, from, to string) {
	if r[kind] == nil {
		r[kind] = make(map[string]string)
	}
	r[kind][from] = to
}

func (r renames) empty() bool {
	return len(r) == 0
}

// isolateComponents gives every component of service whose name is already
// taken by a different definition a service-qualified name ("dish.Item"),
// and repoints the service's own references to it. Identical definitions
// stay shared.
func (m *merger) isolateComponents(service string, doc *openapi3.T) *openapi3.T {
	if doc.Components == nil {
		return doc
	}

	dst, src := m.components, doc.Components
	r := make(renames)
	findConflicts(service, kindSchemas, m.owners, dst.Schemas, src.Schemas, r)
	findConflicts(service, kindParameters, m.owners, dst.Parameters, src.Parameters, r)
	findConflicts(service, kindHeaders, m.owners, dst.Headers, src.Headers, r)
	findConflicts(service, kindRequestBodies, m.owners, dst.RequestBodies, src.RequestBodies, r)
	findConflicts(service, kindResponses, m.owners, dst.Responses, src.Responses, r)
	findConflicts(service, kindSecuritySchemes, m.owners, dst.SecuritySchemes, src.SecuritySchemes, r)
	findConflicts(service, kindExamples, m.owners, dst.Examples, src.Examples, r)
	findConflicts(service, kindLinks, m.owners, dst.Links, src.Links, r)
	findConflicts(service, kindCallbacks, m.owners, dst.Callbacks, src.Callbacks, r)
	if r.empty() {
		return doc
	}

	renamed, err := renameComponents(doc, r)
	if err != nil {
		slog.Warn("failed to namespace documentation components, keeping shared names",
			"service", service,
			"error", err,
		)
		return doc
	}

	for kind, names := range r {
		for from, to := range names {
			slog.Info("documentation component namespaced",
				"service", service,
				"kind", kind,
				"name", from,
				"renamed_to", to,
			)
		}
	}
	return renamed
}

func findConflicts[M ~map[string]V, V any](service, kind string, owners map[string]string, dst, src M, r renames) {
	for name, value := range src {
		existing, ok := dst[name]
		if !ok || owners[componentRef(kind, name)] == service {
			continue
		}
		if sameDefinition(existing, value) {
			continue
		}
		r.add(kind, name, service+"."+name)
	}
}

func sameDefinition(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ra, rb)
}

// renameComponents rewrites doc through its JSON form: component keys are
// renamed, references and security requirements are repointed, and the
// result is loaded again so references resolve to the renamed definitions.
func renameComponents(doc *openapi3.T, r renames) (*openapi3.T, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode description: %w", err)
	}

	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode description: %w", err)
	}

	if components, ok := tree["components"].(map[string]interface{}); ok {
		for kind, names := range r {
			section, ok := components[kind].(map[string]interface{})
			if !ok {
				continue
			}
			for from, to := range names {
				if v, ok := section[from]; ok {
					delete(section, from)
					section[to] = v
				}
			}
		}
	}

	refs := make(map[string]string)
	for kind, names := range r {
		for from, to := range names {
			refs[componentRef(kind, from)] = componentRef(kind, to)
		}
	}
	rewriteRefs(tree, refs, r[kindSecuritySchemes])

	raw, err = json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to encode renamed description: %w", err)
	}

	loader := openapi3.NewLoader()
	renamed, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load renamed description: %w", err)
	}
	if renamed.Paths == nil {
		renamed.Paths = openapi3.NewPaths()
	}
	return renamed, nil
}

// rewriteRefs walks a decoded document in place.
func rewriteRefs(node interface{}, refs, schemes map[string]string) {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, child := range v {
			if s, ok := child.(string); ok {
				if to, ok := renamedRef(s, refs); ok {
					v[key] = to
				}
				continue
			}
			if key == "security" && len(schemes) > 0 {
				renameRequirements(child, schemes)
			}
			rewriteRefs(child, refs, schemes)
		}
	case []interface{}:
		for i, child := range v {
			if s, ok := child.(string); ok {
				if to, ok := renamedRef(s, refs); ok {
					v[i] = to
				}
				continue
			}
			rewriteRefs(child, refs, schemes)
		}
	}
}

func renamedRef(s string, refs map[string]string) (string, bool) {
	if !strings.HasPrefix(s, "#/components/") {
		return "", false
	}
	for from, to := range refs {
		if s == from {
			return to, true
		}
		if strings.HasPrefix(s, from+"/") {
			return to + strings.TrimPrefix(s, from), true
		}
	}
	return "", false
}

// renameRequirements repoints security requirement objects, which name
// schemes by key instead of by reference.
func renameRequirements(node interface{}, schemes map[string]string) {
	requirements, ok := node.([]interface{})
	if !ok {
		return
	}
	for _, item := range requirements {
		requirement, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		for from, to := range schemes {
			if scopes, ok := requirement[from]; ok {
				delete(requirement, from)
				requirement[to] = scopes
			}
		}
	}
}

func (m *merger) mergeComponents(service string, src *openapi3.Components) {
	dst := m.components
	dst.Schemas = mergeComponent(service, kindSchemas, m.owners, dst.Schemas, src.Schemas)
	dst.Parameters = mergeComponent(service, kindParameters, m.owners, dst.Parameters, src.Parameters)
	dst.Headers = mergeComponent(service, kindHeaders, m.owners, dst.Headers, src.Headers)
	dst.RequestBodies = mergeComponent(service, kindRequestBodies, m.owners, dst.RequestBodies, src.RequestBodies)
	dst.Responses = mergeComponent(service, kindResponses, m.owners, dst.Responses, src.Responses)
	dst.SecuritySchemes = mergeComponent(service, kindSecuritySchemes, m.owners, dst.SecuritySchemes, src.SecuritySchemes)
	dst.Examples = mergeComponent(service, kindExamples, m.owners, dst.Examples, src.Examples)
	dst.Links = mergeComponent(service, kindLinks, m.owners, dst.Links, src.Links)
	dst.Callbacks = mergeComponent(service, kindCallbacks, m.owners, dst.Callbacks, src.Callbacks)
}

// mergeComponent copies src into dst by name. Conflicting names were
// already namespaced by isolateComponents, so a name that is still taken
// holds an identical definition; if namespacing failed the later service
// wins and the redefinition is logged.
func mergeComponent[M ~map[string]V, V any](service, kind string, owners map[string]string, dst, src M) M {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(M, len(src))
	}
	for name, value := range src {
		ownerKey := componentRef(kind, name)
		if existing, ok := dst[name]; ok {
			if prev := owners[ownerKey]; prev != service && !sameDefinition(existing, value) {
				slog.Warn("documentation component redefined",
					"kind", kind,
					"name", name,
					"previous", prev,
					"override_by", service,
				)
			}
		}
		dst[name] = value
		owners[ownerKey] = service
	}
	return dst
}
