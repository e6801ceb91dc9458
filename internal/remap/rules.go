package remap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	keyRulesSection   = "tagKeysToUpdate"
	valueRulesSection = "tagValuesToUpdate"
)

type Rules struct {
	KeyRules   KeyRules
	ValueRules ValueRules
}

func LoadRules(file string) (*Rules, error) {
	if file == "" {
		return nil, fmt.Errorf("missing rules file")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s failed: %w", file, err)
	}

	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules file %s failed: %w", file, err)
	}

	return rules, nil
}

// ParseRules decodes a rules document. The document is either a mapping with
// tagKeysToUpdate and/or tagValuesToUpdate sections, or a flat mapping of key
// renames. Tag keys are case sensitive and key rules keep document order, so
// the document is walked as yaml nodes rather than decoded into a map.
func ParseRules(data []byte) (*Rules, error) {
	var doc yaml.Node

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, err
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("rules document is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: rules document must be a mapping", root.Line)
	}

	rules := &Rules{
		KeyRules:   KeyRules{},
		ValueRules: ValueRules{},
	}

	keysNode := mappingValue(root, keyRulesSection)
	valuesNode := mappingValue(root, valueRulesSection)

	if keysNode == nil && valuesNode == nil {
		keysNode = root
	}

	if keysNode != nil {
		pairs, err := mappingPairs(keysNode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keyRulesSection, err)
		}

		for _, pair := range pairs {
			if pair[1] == "" {
				return nil, fmt.Errorf(
					"%s: tag key %q cannot be renamed to an empty key",
					keyRulesSection,
					pair[0],
				)
			}
			rules.KeyRules = append(rules.KeyRules, KeyRule{pair[0], pair[1]})
		}
	}

	if valuesNode != nil {
		pairs, err := mappingPairs(valuesNode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", valueRulesSection, err)
		}

		for _, pair := range pairs {
			rules.ValueRules[pair[0]] = pair[1]
		}
	}

	return rules, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func mappingPairs(node *yaml.Node) ([][2]string, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}

	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", node.Line)
	}

	seen := map[string]bool{}
	pairs := [][2]string{}

	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]

		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: rules must map a string to a string", k.Line)
		}

		if k.Value == "" {
			return nil, fmt.Errorf("line %d: empty rule source", k.Line)
		}

		if seen[k.Value] {
			return nil, fmt.Errorf("line %d: duplicate rule for %q", k.Line, k.Value)
		}
		seen[k.Value] = true

		value := v.Value
		if v.Tag == "!!null" {
			value = ""
		}

		pairs = append(pairs, [2]string{k.Value, value})
	}

	return pairs, nil
}
