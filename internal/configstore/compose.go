package configstore

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetctl/fleetctl/internal/ferrors"
)

// ComposeFile is a minimal view over a declarative compose-style service
// file: ConfigStore only ever needs to read service names and image
// references, and to rewrite an image's tag in place. Any other structural
// edit is rejected to keep the document's shape under version control
// predictable.
type ComposeFile struct {
	path string
	doc  yaml.Node
}

// ReadComposeFile parses path. A missing file returns an empty ComposeFile.
func ReadComposeFile(path string) (*ComposeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ComposeFile{path: path}, nil
		}
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ferrors.Wrap(ferrors.KindValidation, "parse compose file", err)
	}
	return &ComposeFile{path: path, doc: doc}, nil
}

// ServiceNames returns the top-level keys under "services".
func (c *ComposeFile) ServiceNames() []string {
	servicesNode := c.servicesNode()
	if servicesNode == nil {
		return nil
	}
	var names []string
	for i := 0; i+1 < len(servicesNode.Content); i += 2 {
		names = append(names, servicesNode.Content[i].Value)
	}
	return names
}

// Image returns a service's image reference.
func (c *ComposeFile) Image(service string) (string, bool) {
	node := c.serviceNode(service)
	if node == nil {
		return "", false
	}
	imgNode := mapGet(node, "image")
	if imgNode == nil {
		return "", false
	}
	return imgNode.Value, true
}

// SetImageTag replaces only the tag portion of a service's image reference
// with newTag, which is written as given after "repo:". A digest-pinned
// reference ("repo@sha256:...") is rejected as a structural edit. It
// refuses to touch anything else about the document.
func (c *ComposeFile) SetImageTag(service, newTag string) error {
	node := c.serviceNode(service)
	if node == nil {
		return ferrors.New(ferrors.KindValidation, fmt.Sprintf("unknown service %q", service))
	}
	imgNode := mapGet(node, "image")
	if imgNode == nil {
		return ferrors.New(ferrors.KindValidation, fmt.Sprintf("service %q has no image", service))
	}
	if strings.Contains(imgNode.Value, "@sha256:") {
		return ferrors.New(ferrors.KindValidation, "refusing to rewrite a digest-pinned image reference")
	}
	repo := imgNode.Value
	if idx := strings.LastIndex(imgNode.Value, ":"); idx > strings.LastIndex(imgNode.Value, "/") {
		repo = imgNode.Value[:idx]
	}
	imgNode.Value = repo + ":" + newTag
	return nil
}

// Write serializes and atomically writes the document back to its path.
func (c *ComposeFile) Write() error {
	out, err := yaml.Marshal(&c.doc)
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, "marshal compose file", err)
	}
	return atomicWrite(c.path, out, 0o644)
}

func (c *ComposeFile) servicesNode() *yaml.Node {
	if len(c.doc.Content) == 0 {
		return nil
	}
	root := c.doc.Content[0]
	return mapGet(root, "services")
}

func (c *ComposeFile) serviceNode(name string) *yaml.Node {
	servicesNode := c.servicesNode()
	if servicesNode == nil {
		return nil
	}
	return mapGet(servicesNode, name)
}

// mapGet finds the value node for a key in a YAML mapping node.
func mapGet(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
