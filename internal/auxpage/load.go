package auxpage

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Load parses a page document. The document is JSON or YAML holding either
// one page or a list of pages.
func Load(r io.Reader) ([]*Page, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read page document: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPage, err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidPage)
	}

	root := doc.Content[0]
	var pages []*Page
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&pages); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPage, err)
		}
	case yaml.MappingNode:
		var p Page
		if err := root.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPage, err)
		}
		pages = []*Page{&p}
	default:
		return nil, fmt.Errorf("%w: expected a page or a list of pages", ErrInvalidPage)
	}

	for _, p := range pages {
		if err := validate(p); err != nil {
			return nil, err
		}
	}
	return pages, nil
}
